// Package store provides a MySQL-backed reference implementation of publisher.RecordStore:
// one owned *gorm.DB, AutoMigrate on construction, Create for writes. It records
// opportunities and validation outcomes.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// OpportunityRecord is the database model for a published types.Opportunity.
type OpportunityRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID string   `gorm:"column:opportunity_id;type:varchar(128);uniqueIndex;not null"`
	ChainID      int64     `gorm:"not null;index"`
	DexIn        string    `gorm:"type:varchar(64)"`
	DexOut       string    `gorm:"type:varchar(64)"`
	BaseToken    string    `gorm:"type:varchar(42)"`
	QuoteToken   string    `gorm:"type:varchar(42)"`
	AmountIn     string    `gorm:"type:varchar(78);comment:big.Int as string"`
	EstProfitUsd float64   `gorm:"not null"`
	GasUsd       float64   `gorm:"not null"`
	ObservedAt   time.Time `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (OpportunityRecord) TableName() string { return "opportunities" }

// ValidationRecord is the database model for one orchestrator validation outcome.
type ValidationRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ChainID   int64     `gorm:"not null;index"`
	Asset     string    `gorm:"type:varchar(42);not null;index"`
	Status    string    `gorm:"type:varchar(16);not null"`
	Reason    string    `gorm:"type:varchar(32)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ValidationRecord) TableName() string { return "validation_events" }

// MySQLStore implements publisher.RecordStore using GORM and MySQL.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore opens dsn and migrates the schema. dsn format:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL: %w", err)
	}
	return NewMySQLStoreWithDB(db)
}

// NewMySQLStoreWithDB wraps an already-open *gorm.DB, migrating the schema onto it. Useful
// for tests against sqlite or an in-memory GORM dialector.
func NewMySQLStoreWithDB(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&OpportunityRecord{}, &ValidationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// RecordOpportunity persists one opportunity. Duplicate opportunity IDs are ignored rather
// than erroring, since the publisher's own dedup window can still let a retried publish
// reach here after the window expires.
func (s *MySQLStore) RecordOpportunity(ctx context.Context, o types.Opportunity) error {
	record := OpportunityRecord{
		OpportunityID: o.ID,
		ChainID:       o.ChainID,
		DexIn:         o.DexIn,
		DexOut:        o.DexOut,
		BaseToken:     o.BaseToken,
		QuoteToken:    o.QuoteToken,
		AmountIn:      o.AmountIn,
		EstProfitUsd:  o.EstProfitUsd,
		GasUsd:        o.GasUsd,
		ObservedAt:    time.UnixMilli(o.Ts),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("record opportunity %s: %w", o.ID, result.Error)
	}
	return nil
}

// RecordValidation persists one orchestrator validation outcome.
func (s *MySQLStore) RecordValidation(ctx context.Context, assetAddress string, chainID int64, status types.ValidationStatus, reason types.BlockReason) error {
	record := ValidationRecord{
		ChainID: chainID,
		Asset:   assetAddress,
		Status:  string(status),
		Reason:  string(reason),
	}
	result := s.db.WithContext(ctx).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("record validation for %s: %w", assetAddress, result.Error)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// CountOpportunities returns the total number of recorded opportunities.
func (s *MySQLStore) CountOpportunities() (int64, error) {
	var count int64
	result := s.db.Model(&OpportunityRecord{}).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("count opportunities: %w", result.Error)
	}
	return count, nil
}
