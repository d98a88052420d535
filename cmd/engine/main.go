// Command engine is the process entrypoint: it loads .env and the YAML config, dials every
// configured RPC endpoint, wires the engine components together, and serves the HTTP
// control surface while the scan loop runs in the background.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blackholelabs/arbengine/internal/arbsearch"
	"github.com/blackholelabs/arbengine/internal/chainfetch"
	"github.com/blackholelabs/arbengine/internal/configplane"
	"github.com/blackholelabs/arbengine/internal/dexadapter"
	"github.com/blackholelabs/arbengine/internal/dexadapter/concentrated"
	"github.com/blackholelabs/arbengine/internal/dexadapter/constantproduct"
	"github.com/blackholelabs/arbengine/internal/dexadapter/stableswap"
	"github.com/blackholelabs/arbengine/internal/dexadapter/weighted"
	"github.com/blackholelabs/arbengine/internal/engine"
	"github.com/blackholelabs/arbengine/internal/orchestrator"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/internal/pricefeed"
	"github.com/blackholelabs/arbengine/internal/publisher"
	"github.com/blackholelabs/arbengine/internal/sizeoptimizer"
	"github.com/blackholelabs/arbengine/internal/store"
	"github.com/blackholelabs/arbengine/pkg/rpctransport"
	"github.com/blackholelabs/arbengine/pkg/rpctransport/abiset"
	"github.com/blackholelabs/arbengine/pkg/types"

	"github.com/shopspring/decimal"
)

// Exit codes: 0 clean shutdown, 1 config invalid, 2 no healthy RPC on any
// configured chain, 3 internal error.
const (
	exitOK            = 0
	exitConfigInvalid = 1
	exitNoHealthyRPC  = 2
	exitInternalError = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yml", "path to the engine's YAML config snapshot")
	addr := flag.String("addr", ":8080", "HTTP control-surface listen address")
	mysqlDSN := flag.String("mysql-dsn", "", "optional MySQL DSN for the opportunity/validation record store")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("[engine] no .env file loaded: %v", err)
	}

	snapshot, err := configplane.Load(*configPath)
	if err != nil {
		log.Printf("[engine] load config %s: %v", *configPath, err)
		return exitConfigInvalid
	}
	if report := configplane.Validate(snapshot); !report.Valid {
		for _, e := range report.Errors {
			log.Printf("[engine] config invalid: %s", e)
		}
		return exitConfigInvalid
	}

	var recordStore publisher.RecordStore
	if dsn := dsnFromFlagOrEnv(*mysqlDSN); dsn != "" {
		mysqlStore, err := store.NewMySQLStore(dsn)
		if err != nil {
			log.Printf("[engine] connect record store: %v", err)
			return exitInternalError
		}
		recordStore = mysqlStore
	}

	pub := publisher.New(publisher.DefaultChannelSize, recordStore)
	bus := engine.NewEventBus()
	plane := configplane.New(pub)

	transport := rpctransport.New()
	abis := abiset.New()
	if err := chainfetch.RegisterDefaultABIs(abis); err != nil {
		log.Printf("[engine] register default ABIs: %v", err)
		return exitInternalError
	}

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDial()
	if err := dialEndpoints(dialCtx, transport, snapshot); err != nil {
		log.Printf("[engine] dial RPC endpoints: %v", err)
		return exitNoHealthyRPC
	}
	if !anyChainHasHealthyRPC(transport, snapshot) {
		log.Printf("[engine] no healthy RPC endpoint on any configured chain")
		return exitNoHealthyRPC
	}

	registry := poolregistry.New(poolregistry.DefaultTTL)
	defer registry.Close()
	nowFn := func() int64 { return time.Now().UnixMilli() }
	registry.RegisterFetcher(types.FamilyConstantProduct, chainfetch.NewConstantProductFetcher(transport, abis, nowFn))
	registry.RegisterFetcher(types.FamilyConcentrated, chainfetch.NewConcentratedFetcher(transport, abis, nowFn))
	registry.RegisterFetcher(types.FamilyStableSwap, chainfetch.NewStableSwapFetcher(transport, abis, nowFn))
	registry.RegisterFetcher(types.FamilyWeighted, chainfetch.NewWeightedFetcher(transport, abis, nowFn))

	adapters := dexadapter.NewRegistry()
	adapters.Register(types.FamilyConstantProduct, constantproduct.New())
	adapters.Register(types.FamilyConcentrated, concentrated.New())
	adapters.Register(types.FamilyStableSwap, stableswap.New())
	adapters.Register(types.FamilyWeighted, weighted.New())

	feed := pricefeed.New(registry, adapters)
	scanner := arbsearch.New(registry, adapters, poolregistry.DefaultTTL.Milliseconds(), nowFn)

	// RegisterRebuilder runs synchronously inside Plane.Apply, before the new snapshot
	// becomes active and before config.applied is emitted, so a subscriber observing the
	// event can rely on the registries reflecting the new snapshot.
	plane.RegisterRebuilder(func(snap *types.ConfigSnapshot) error {
		for _, chain := range snap.Chains {
			registry.ReplaceAll(chain.ChainID, chain.Pools)
		}
		return nil
	})

	unitPriceFn := unitPriceFromFeed(feed, registry)
	gasFn := gasParamsFromChain(plane, unitPriceFn)
	minProfitUsd := decimal.NewFromFloat(1) // reject if netProfit < max(minPnlBps*x, minProfitUsd)
	optimizer := sizeoptimizer.New(registry, adapters, minProfitUsd, func(chainID int64, tokenAddress string) decimal.Decimal {
		return unitPriceFn(chainID, tokenAddress)
	})

	orch := orchestrator.New(plane, registry, scanner, optimizer, unitPriceFn, gasFn, pub)
	// Every config swap returns all assets to pending so they re-enter admission.
	plane.RegisterRebuilder(func(*types.ConfigSnapshot) error {
		orch.ResetAll()
		return nil
	})

	if _, err := plane.Apply(context.Background(), snapshot); err != nil {
		log.Printf("[engine] apply initial config: %v", err)
		return exitConfigInvalid
	}

	eng := engine.New(plane, registry, scanner, orch, pub, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	server := &http.Server{Addr: *addr, Handler: eng.Handler()}
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("[engine] control surface listening on %s", *addr)
		serverErr <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Printf("[engine] shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[engine] control surface error: %v", err)
			cancel()
			return exitInternalError
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[engine] graceful shutdown: %v", err)
		return exitInternalError
	}
	return exitOK
}

func dsnFromFlagOrEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("ARBENGINE_MYSQL_DSN")
}

// dialEndpoints dials every HTTPS/WSS endpoint named in the snapshot and registers it on
// the transport with its health-tracked Endpoint wrapper. A single dial failure is logged
// and skipped rather than aborting startup; anyChainHasHealthyRPC checks the aggregate
// outcome afterward.
func dialEndpoints(ctx context.Context, transport *rpctransport.Transport, snapshot *types.ConfigSnapshot) error {
	for _, chain := range snapshot.Chains {
		for _, url := range chain.RpcPool.Https {
			caller, err := rpctransport.DialCaller(ctx, url)
			if err != nil {
				log.Printf("[engine] dial %s (chain %d): %v", url, chain.ChainID, err)
				continue
			}
			transport.AddEndpoint(chain.ChainID, rpctransport.NewEndpoint(url, rpctransport.KindHTTPS), caller)
		}
		for _, url := range chain.RpcPool.Wss {
			caller, err := rpctransport.DialCaller(ctx, url)
			if err != nil {
				log.Printf("[engine] dial %s (chain %d): %v", url, chain.ChainID, err)
				continue
			}
			transport.AddEndpoint(chain.ChainID, rpctransport.NewEndpoint(url, rpctransport.KindWS), caller)
		}
	}
	return nil
}

func anyChainHasHealthyRPC(transport *rpctransport.Transport, snapshot *types.ConfigSnapshot) bool {
	for _, chain := range snapshot.Chains {
		if len(transport.Endpoints(chain.ChainID)) > 0 {
			return true
		}
	}
	return false
}

// unitPriceFromFeed prices tokenAddress off the first pool on the chain that holds it and
// that the feed can quote, returning the pool's spot price (inverted when the token is the
// pool's quote side). The result is denominated in that pool's other token, so it is a USD
// price only when that token is a USD stable; it is a thin adapter over pricefeed since no
// external USD oracle exists in this codebase.
func unitPriceFromFeed(feed *pricefeed.Feed, registry *poolregistry.Registry) orchestrator.UnitPriceFn {
	return func(chainID int64, tokenAddress string) decimal.Decimal {
		pools := registry.PoolsForChain(chainID)
		for _, pool := range pools {
			if !strings.EqualFold(pool.Base, tokenAddress) && !strings.EqualFold(pool.Quote, tokenAddress) {
				continue
			}
			price, err := feed.Price(context.Background(), pool)
			if err != nil {
				continue
			}
			f, _ := price.Float64()
			if strings.EqualFold(pool.Base, tokenAddress) {
				return decimal.NewFromFloat(f)
			}
			if f != 0 {
				return decimal.NewFromFloat(1 / f)
			}
		}
		return decimal.Zero
	}
}

// gasParamsFromChain returns a chain's configured gas model inputs:
// gasUnitsHintRoundtripV2 (multiplied by hops-1, at least 1) and gasPriceFloorGwei come straight off the
// chain's ChainDescriptor; nativePriceUsd is priced off the chain's own pool graph against
// its wrapped-native token, since no external USD oracle exists in this codebase.
func gasParamsFromChain(plane *configplane.Plane, unitPrice orchestrator.UnitPriceFn) orchestrator.GasEstimateFn {
	const fallbackGasPriceGwei = 15.0
	const fallbackNativePriceUsd = 600.0

	return func(chainID int64, hops int) sizeoptimizer.GasParams {
		snapshot := plane.Active()
		if snapshot == nil {
			return sizeoptimizer.GasParams{GasUnitsHint: types.DefaultGasUnitsHintRoundtripV2, GasPriceGwei: fallbackGasPriceGwei, NativePriceUsd: fallbackNativePriceUsd}
		}
		for _, chain := range snapshot.Chains {
			if chain.ChainID != chainID {
				continue
			}
			gasPriceGwei := chain.GasPriceFloorGwei
			if gasPriceGwei == 0 {
				gasPriceGwei = fallbackGasPriceGwei
			}
			nativePriceUsd := fallbackNativePriceUsd
			if unitPrice != nil {
				if p := unitPrice(chainID, chain.WrappedNative); !p.IsZero() {
					nativePriceUsd, _ = p.Float64()
				}
			}
			legs := hops - 1
			if legs < 1 {
				legs = 1
			}
			return sizeoptimizer.GasParams{
				GasUnitsHint:   chain.GasUnitsHint() * uint64(legs),
				GasPriceGwei:   gasPriceGwei,
				NativePriceUsd: nativePriceUsd,
			}
		}
		return sizeoptimizer.GasParams{GasUnitsHint: types.DefaultGasUnitsHintRoundtripV2, GasPriceGwei: fallbackGasPriceGwei, NativePriceUsd: fallbackNativePriceUsd}
	}
}
