package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/activity"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/config"
	"github.com/ledgerbridge/crossbook/engine"
	"github.com/ledgerbridge/crossbook/httpapi"
	"github.com/ledgerbridge/crossbook/marketmaker"
	"github.com/ledgerbridge/crossbook/notify"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/settlement"
	"github.com/ledgerbridge/crossbook/types"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════")
	log.Info().Msg("          crossbook — cross-chain spot exchange")
	log.Info().Msg("═══════════════════════════════════════════════════")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config: load failed")
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 1: TOKEN REGISTRY
	// ═══════════════════════════════════════════════════════════════════

	reg := registry.New()
	for _, chainCfg := range cfg.Chains {
		reg.RegisterChain(chainCfg)
	}
	for symbol, addr := range cfg.LegacyTokenAddresses {
		reg.RegisterLegacyToken(symbol, addr)
	}
	log.Info().Int("chains", len(cfg.Chains)).Msg("✅ token registry populated")

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 2: CHAIN CLIENTS
	// ═══════════════════════════════════════════════════════════════════

	clients := make(map[string]*chain.Client, len(cfg.Chains))
	for key, chainCfg := range cfg.Chains {
		c, err := chain.NewClient(chain.Config{
			ChainKey:        key,
			RPCURL:          chainCfg.RPCURL,
			ChainID:         chainCfg.ChainID,
			ContractAddress: chainCfg.ContractAddress,
			SignerKeyHex:    cfg.PrivateKey,
			DryRun:          cfg.DryRun,
		})
		if err != nil {
			log.Warn().Err(err).Str("chain", key).Msg("chain client unavailable, skipping")
			continue
		}
		clients[key] = c
	}
	log.Info().Int("clients", len(clients)).Msg("✅ chain clients dialed")

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 3: ACTIVITY LOG + SETTLEMENT LEDGER + NOTIFIER
	// ═══════════════════════════════════════════════════════════════════

	activityLog, err := activity.Open(cfg.ActivityLogPath, activity.DefaultCapacity)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ActivityLogPath).Msg("activity log: open failed")
	}
	log.Info().Str("path", cfg.ActivityLogPath).Msg("✅ activity log opened")

	ledger, err := settlement.NewLedger(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("settlement ledger: open failed")
	}
	log.Info().Msg("✅ settlement ledger opened")

	notifier, err := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("telegram notifier unavailable, alerts disabled")
		notifier = nil
	} else if notifier != nil {
		log.Info().Msg("✅ telegram notifier initialized")
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 4: ENGINE (orchestration)
	// ═══════════════════════════════════════════════════════════════════

	eng := engine.New(engine.Deps{
		Config:      cfg,
		Registry:    reg,
		Clients:     clients,
		ActivityLog: activityLog,
		Ledger:      ledger,
		Notifier:    notifier,
	})
	log.Info().Msg("✅ engine wired")

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 5: MARKET MAKER (optional)
	// ═══════════════════════════════════════════════════════════════════

	if cfg.MMAccount != "" {
		driver, err := buildMarketMaker(cfg, eng, notifier)
		if err != nil {
			log.Warn().Err(err).Msg("market maker unavailable, skipping")
		} else {
			eng.RegisterDriver(driver)
			if err := driver.Start(); err != nil {
				log.Warn().Err(err).Msg("market maker failed to start")
			} else {
				log.Info().Str("account", cfg.MMAccount).Msg("✅ market maker started")
			}
		}
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 6: HTTP TRANSPORT
	// ═══════════════════════════════════════════════════════════════════

	srv := httpapi.NewServer(eng)
	ctx, cancel := context.WithCancel(context.Background())
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Start(ctx, ":"+cfg.Port)
	}()
	log.Info().Str("port", cfg.Port).Msg("🚀 running")

	// ═══════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Warn().Str("signal", sig.String()).Msg("🛑 shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			log.Error().Err(err).Msg("httpapi: server stopped unexpectedly")
		}
	}

	cancel()
	if err := eng.Stop(); err != nil {
		log.Warn().Err(err).Msg("engine: stop reported an error")
	}

	shutdownDeadline := time.After(10 * time.Second)
	select {
	case <-serverErrCh:
	case <-shutdownDeadline:
		log.Warn().Msg("httpapi: shutdown timed out")
	}

	log.Info().Msg("👋 goodbye")
}

// buildMarketMaker wires the Driver from cfg's MM_* environment family,
// used only when MM_ACCOUNT is set.
func buildMarketMaker(cfg *config.Config, eng *engine.Engine, notifier *notify.Telegram) (*marketmaker.Driver, error) {
	quantity, err := decimal.NewFromString(cfg.MMQuantity)
	if err != nil {
		return nil, err
	}
	spread, err := decimal.NewFromString(cfg.MMSpreadPercent)
	if err != nil {
		spread = decimal.Zero
	}

	driverCfg := marketmaker.Config{
		Account:       cfg.MMAccount,
		BaseAsset:     cfg.MMBaseAsset,
		QuoteAsset:    cfg.MMQuoteAsset,
		Side:          types.Side(cfg.MMSide),
		Quantity:      quantity,
		SpreadPercent: spread,
		FromNetwork:   cfg.MMFromNetwork,
		ToNetwork:     cfg.MMToNetwork,
		ReceiveWallet: cfg.MMReceiveWallet,
		PollInterval:  cfg.MarketMakerPollInterval,
	}

	fetcher := marketmaker.NewRestyPriceFetcher(cfg.ReferencePriceURLFormat, 5*time.Second)
	bookView, placer, topUp := eng.MarketMakerAdapters()

	return marketmaker.New(driverCfg, fetcher, bookView, placer, topUp, notifier), nil
}
