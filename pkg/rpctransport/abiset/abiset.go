// Package abiset loads and caches the contract ABIs used to decode pool-state eth_call
// results, keyed by DEX family.
package abiset

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Set caches parsed ABIs by name (typically a dexId or family name) so adapters don't
// re-parse the same JSON on every call.
type Set struct {
	mu    sync.RWMutex
	byKey map[string]abi.ABI
}

func New() *Set {
	return &Set{byKey: make(map[string]abi.ABI)}
}

// Register stores a pre-parsed ABI under key.
func (s *Set) Register(key string, a abi.ABI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = a
}

// Get returns the ABI registered under key.
func (s *Set) Get(key string) (abi.ABI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byKey[key]
	return a, ok
}

// LoadFromHardhatArtifact parses a Hardhat build artifact JSON file (which wraps the raw
// ABI array under an "abi" key) and registers it under key.
func (s *Set) LoadFromHardhatArtifact(key, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading artifact %s: %w", path, err)
	}

	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return fmt.Errorf("parsing artifact %s: %w", path, err)
	}

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return fmt.Errorf("parsing abi from artifact %s: %w", path, err)
	}
	s.Register(key, parsed)
	return nil
}

// LoadRawABI parses a plain ABI JSON file (no Hardhat wrapper) and registers it under key.
func (s *Set) LoadRawABI(key, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading abi %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("parsing abi %s: %w", path, err)
	}
	s.Register(key, parsed)
	return nil
}

// Hex2Bytes strips an optional "0x" prefix and decodes the remaining hex string.
func Hex2Bytes(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, _ := hex.DecodeString(s)
	return b
}
