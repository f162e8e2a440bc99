// Package config binds process configuration into a single defaulted
// struct, replacing scattered os.Getenv calls, built on
// github.com/spf13/viper, grounded on
// 0xtitan6-polymarket-mm/internal/config.Config's Load/Validate shape, and
// on cmd/main.go's godotenv.Load()-then-read-env bootstrap order. Chain
// configuration mirrors the original orderbook service's SUPPORTED_NETWORKS
// dict: known chains come from a built-in table of defaults that
// per-chain environment variable families override, and further chains
// are added from those families found in the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/ledgerbridge/crossbook/types"
)

// knownChains is the original's SUPPORTED_NETWORKS key set: these chains
// are always present in Config.Chains, using defaultRPC/defaultChainID
// when their env vars are unset, exactly as the original dict literal is
// always fully populated. A chain outside this list is only included if
// its WEB3_PROVIDER_<CHAIN> variable is actually set, discovered by
// scanning the process environment rather than a hardcoded second list.
var knownChains = []string{"hedera", "ethereum", "polygon", "bsc", "celo", "base"}

// defaultRPC mirrors the original's per-chain fallback RPC endpoints, used
// only when WEB3_PROVIDER_<CHAIN> is unset for one of the known chains.
var defaultRPC = map[string]string{
	"hedera":   "https://testnet.hashio.io/api",
	"ethereum": "https://mainnet.infura.io/v3/",
	"polygon":  "https://polygon-rpc.com",
	"bsc":      "https://bsc-dataseed.binance.org",
	"celo":     "https://forno.celo.org",
	"base":     "https://mainnet.base.org",
}

var defaultChainID = map[string]int64{
	"hedera":   296,
	"ethereum": 1,
	"polygon":  137,
	"bsc":      56,
	"celo":     42220,
	"base":     8453,
}

// Config is the process-wide configuration, bound from environment
// variables (optionally via a .env file).
type Config struct {
	PrivateKey               string
	DryRun                   bool
	RequireClientSignatures  bool
	SettlementSync           bool
	SettlementSyncTimeout    time.Duration
	ActivityLogPath          string
	DatabaseURL              string
	TelegramBotToken         string
	TelegramChatID           string
	Port                     string
	MarketMakerPollInterval  time.Duration
	ReferencePriceURLFormat  string
	Chains                   map[string]types.ChainConfig
	LegacyTokenAddresses     map[string]string

	// Market-maker driver config. MMAccount empty means the driver is not
	// started at all, mirroring the original's optional bot process.
	MMAccount       string
	MMBaseAsset     string
	MMQuoteAsset    string
	MMSide          string
	MMQuantity      string
	MMSpreadPercent string
	MMFromNetwork   string
	MMToNetwork     string
	MMReceiveWallet string
}

// Load reads .env (if present), binds every environment variable this
// service recognizes, and discovers the configured chain set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, relying on process environment")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("ACTIVITY_LOG_PATH", "orderbook_activity.jsonl")
	v.SetDefault("SETTLEMENT_SYNC", "false")
	v.SetDefault("SETTLEMENT_SYNC_TIMEOUT", "8")
	v.SetDefault("REQUIRE_CLIENT_SIGNATURES", "false")
	v.SetDefault("PORT", "8001")
	v.SetDefault("MM_POLL_INTERVAL", "60")
	v.SetDefault("DRY_RUN", "false")

	cfg := &Config{
		PrivateKey:              v.GetString("PRIVATE_KEY"),
		DryRun:                  v.GetBool("DRY_RUN"),
		RequireClientSignatures: v.GetBool("REQUIRE_CLIENT_SIGNATURES"),
		SettlementSync:          v.GetBool("SETTLEMENT_SYNC"),
		SettlementSyncTimeout:   time.Duration(v.GetInt64("SETTLEMENT_SYNC_TIMEOUT")) * time.Second,
		ActivityLogPath:         v.GetString("ACTIVITY_LOG_PATH"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		TelegramBotToken:        v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:          v.GetString("TELEGRAM_CHAT_ID"),
		Port:                    v.GetString("PORT"),
		MarketMakerPollInterval: time.Duration(v.GetInt64("MM_POLL_INTERVAL")) * time.Second,
		ReferencePriceURLFormat: v.GetString("REFERENCE_PRICE_URL_FORMAT"),
		LegacyTokenAddresses:    map[string]string{},

		MMAccount:       v.GetString("MM_ACCOUNT"),
		MMBaseAsset:     v.GetString("MM_BASE_ASSET"),
		MMQuoteAsset:    v.GetString("MM_QUOTE_ASSET"),
		MMSide:          v.GetString("MM_SIDE"),
		MMQuantity:      v.GetString("MM_QUANTITY"),
		MMSpreadPercent: v.GetString("MM_SPREAD_PERCENT"),
		MMFromNetwork:   v.GetString("MM_FROM_NETWORK"),
		MMToNetwork:     v.GetString("MM_TO_NETWORK"),
		MMReceiveWallet: v.GetString("MM_RECEIVE_WALLET"),
	}

	chains, legacy := discoverChains(v)
	cfg.Chains = chains
	for symbol, addr := range legacy {
		cfg.LegacyTokenAddresses[symbol] = addr
	}

	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("config: PRIVATE_KEY is required")
	}
	return cfg, nil
}

// environKeys returns the name half of every "NAME=value" entry in the
// process environment, upper-cased. viper's AllSettings() only reflects
// keys it has been explicitly told about, so the dynamic <CHAIN>_ family
// scan reads os.Environ() directly; every value lookup below still goes
// through viper so SetDefault/AutomaticEnv stay the single source of truth
// for what a key actually resolves to.
func environKeys() []string {
	keys := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			keys = append(keys, strings.ToUpper(kv[:i]))
		}
	}
	return keys
}

// discoverChains builds one types.ChainConfig per configured chain. A
// chain counts as configured if WEB3_PROVIDER_<CHAIN> is set explicitly,
// or if it is one of knownChains (which carry a built-in default RPC, the
// same fallback-to-default behavior as the original Python dict).
func discoverChains(v *viper.Viper) (map[string]types.ChainConfig, map[string]string) {
	chains := make(map[string]types.ChainConfig)
	legacy := make(map[string]string)

	seen := map[string]bool{}
	for _, key := range knownChains {
		seen[key] = true
	}
	const providerPrefix = "WEB3_PROVIDER_"
	for _, upper := range environKeys() {
		if strings.HasPrefix(upper, providerPrefix) && len(upper) > len(providerPrefix) {
			seen[strings.ToLower(upper[len(providerPrefix):])] = true
		}
	}

	for chainKey := range seen {
		upper := strings.ToUpper(chainKey)
		rpc := v.GetString("WEB3_PROVIDER_" + upper)
		if rpc == "" {
			rpc = defaultRPC[chainKey]
		}
		if rpc == "" {
			continue // not actually configured and not a known default chain
		}

		chainID := v.GetInt64("WEB3_CHAIN_ID_" + upper)
		if chainID == 0 {
			chainID = defaultChainID[chainKey]
		}

		contract := v.GetString("TRADE_SETTLE_CONTRACT_ADDRESS_" + upper)

		chains[chainKey] = types.ChainConfig{
			Key:             chainKey,
			RPCURL:          rpc,
			ChainID:         chainID,
			ContractAddress: contract,
			Tokens:          tokenAddressesFor(v, upper),
		}
	}

	for _, upper := range environKeys() {
		const suffix = "_TOKEN_ADDRESS"
		if !strings.HasSuffix(upper, suffix) {
			continue
		}
		body := strings.TrimSuffix(upper, suffix)
		if isChainScoped(body, seen) {
			continue // already captured per-chain by tokenAddressesFor
		}
		if s := v.GetString(upper); s != "" {
			legacy[body] = s
		}
	}

	return chains, legacy
}

// tokenAddressesFor scans <CHAIN>_<SYMBOL>_TOKEN_ADDRESS for one chain.
func tokenAddressesFor(v *viper.Viper, chainUpper string) map[string]string {
	tokens := map[string]string{}
	prefix := chainUpper + "_"
	const suffix = "_TOKEN_ADDRESS"
	for _, upper := range environKeys() {
		if !strings.HasPrefix(upper, prefix) || !strings.HasSuffix(upper, suffix) {
			continue
		}
		symbol := strings.TrimSuffix(strings.TrimPrefix(upper, prefix), suffix)
		if s := v.GetString(upper); s != "" {
			tokens[symbol] = s
		}
	}
	return tokens
}

func isChainScoped(body string, chainKeys map[string]bool) bool {
	for chainKey := range chainKeys {
		if strings.HasPrefix(body, strings.ToUpper(chainKey)+"_") {
			return true
		}
	}
	return false
}
