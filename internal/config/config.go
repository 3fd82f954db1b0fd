package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/swapdesk/internal/registry"
)

const (
	ApprovalModeExact = "exact"
	ApprovalModeMax   = "max"
)

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	RPCURLs        string
	LogLevel       string
	NoCache        bool
}

type TokenSetting struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int

	LogLevel  string
	LogFormat string

	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	StorePath     string
	StoreLockPath string

	ChainID        int64
	RPCURLs        []string
	RPCTimeout     time.Duration
	HealthInterval time.Duration

	WalletSecret string

	StableSymbol       string
	StableAddress      string
	StableDecimals     int
	StableMinBuy       string
	DefaultSlippageBps int64
	WETHAddress        string
	ApprovalMode       string
	ConfirmTimeout     time.Duration
	PollInterval       time.Duration
	GasMultiplier      float64
	Tokens             []TokenSetting

	ZeroXQuoteURL    string
	ZeroXAPIKey      string
	OpenOceanBaseURL string
	OneInchAPIKey    string
	CoinGeckoBaseURL string

	ListenAddr  string
	CORSOrigins []string
	JWTSecret   string

	FlowTTL       time.Duration
	AlertInterval time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

type secretConfig struct {
	Value string `yaml:"value"`
	Env   string `yaml:"env"`
}

func (s secretConfig) resolve() string {
	if strings.TrimSpace(s.Env) != "" {
		return os.Getenv(strings.TrimSpace(s.Env))
	}
	return s.Value
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Chain struct {
		RPCURLs        []string `yaml:"rpc_urls"`
		RPCTimeout     string   `yaml:"rpc_timeout"`
		HealthInterval string   `yaml:"health_interval"`
	} `yaml:"chain"`
	Wallet struct {
		Secret secretConfig `yaml:"secret"`
	} `yaml:"wallet"`
	Trading struct {
		StableSymbol       string         `yaml:"stable_symbol"`
		StableAddress      string         `yaml:"stable_address"`
		StableDecimals     *int           `yaml:"stable_decimals"`
		MinBuy             string         `yaml:"min_buy"`
		DefaultSlippageBps *int64         `yaml:"default_slippage_bps"`
		WETHAddress        string         `yaml:"weth_address"`
		ApprovalMode       string         `yaml:"approval_mode"`
		ConfirmTimeout     string         `yaml:"confirm_timeout"`
		PollInterval       string         `yaml:"poll_interval"`
		GasMultiplier      *float64       `yaml:"gas_multiplier"`
		Tokens             []TokenSetting `yaml:"tokens"`
	} `yaml:"trading"`
	Providers struct {
		ZeroX struct {
			QuoteURL  string `yaml:"quote_url"`
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"zerox"`
		OpenOcean struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"openocean"`
		OneInch struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"oneinch"`
		CoinGecko struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"coingecko"`
	} `yaml:"providers"`
	Server struct {
		Listen      string       `yaml:"listen"`
		CORSOrigins []string     `yaml:"cors_origins"`
		JWTSecret   secretConfig `yaml:"jwt_secret"`
	} `yaml:"server"`
	Flow struct {
		TTL string `yaml:"ttl"`
	} `yaml:"flow"`
	Alerts struct {
		Interval string `yaml:"interval"`
	} `yaml:"alerts"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.RPCTimeout <= 0 {
		settings.RPCTimeout = 4 * time.Second
	}
	if len(settings.RPCURLs) == 0 {
		settings.RPCURLs = registry.DefaultRPCURLs()
	}
	if err := validate(settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:         "json",
		Timeout:            10 * time.Second,
		Retries:            2,
		LogLevel:           "info",
		LogFormat:          "json",
		CacheEnabled:       true,
		CachePath:          cachePath,
		CacheLockPath:      lockPath,
		StorePath:          filepath.Join(dataDir, "swapdesk.db"),
		StoreLockPath:      filepath.Join(dataDir, "swapdesk.lock"),
		ChainID:            registry.BaseChainID,
		RPCURLs:            registry.DefaultRPCURLs(),
		RPCTimeout:         4 * time.Second,
		HealthInterval:     time.Minute,
		StableSymbol:       "USDC",
		StableAddress:      registry.BaseUSDC,
		StableDecimals:     6,
		StableMinBuy:       "3",
		DefaultSlippageBps: 100,
		WETHAddress:        registry.BaseWETH,
		ApprovalMode:       ApprovalModeExact,
		ConfirmTimeout:     2 * time.Minute,
		PollInterval:       2 * time.Second,
		GasMultiplier:      1.2,
		ZeroXQuoteURL:      registry.ZeroXQuoteURL,
		OpenOceanBaseURL:   registry.OpenOceanBaseURL,
		CoinGeckoBaseURL:   registry.CoinGeckoBaseURL,
		ListenAddr:         ":8080",
		CORSOrigins:        []string{"*"},
		FlowTTL:            2 * time.Minute,
		AlertInterval:      30 * time.Second,
		KafkaTopic:         "swapdesk.events",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swapdesk", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "swapdesk")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "swapdesk"), nil
}

// loadEnvFile populates the process environment from a dotenv file without
// overriding variables that are already set.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := setDuration(&settings.Timeout, cfg.Timeout, "timeout"); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	setString(&settings.LogLevel, strings.ToLower(cfg.Log.Level))
	setString(&settings.LogFormat, strings.ToLower(cfg.Log.Format))
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	setString(&settings.CachePath, cfg.Cache.Path)
	setString(&settings.CacheLockPath, cfg.Cache.LockPath)
	setString(&settings.StorePath, cfg.Store.Path)
	setString(&settings.StoreLockPath, cfg.Store.LockPath)

	if len(cfg.Chain.RPCURLs) > 0 {
		settings.RPCURLs = cleanList(cfg.Chain.RPCURLs)
	}
	if err := setDuration(&settings.RPCTimeout, cfg.Chain.RPCTimeout, "chain.rpc_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.HealthInterval, cfg.Chain.HealthInterval, "chain.health_interval"); err != nil {
		return err
	}

	setString(&settings.WalletSecret, cfg.Wallet.Secret.resolve())

	setString(&settings.StableSymbol, strings.ToUpper(cfg.Trading.StableSymbol))
	setString(&settings.StableAddress, cfg.Trading.StableAddress)
	if cfg.Trading.StableDecimals != nil {
		settings.StableDecimals = *cfg.Trading.StableDecimals
	}
	setString(&settings.StableMinBuy, cfg.Trading.MinBuy)
	if cfg.Trading.DefaultSlippageBps != nil {
		settings.DefaultSlippageBps = *cfg.Trading.DefaultSlippageBps
	}
	setString(&settings.WETHAddress, cfg.Trading.WETHAddress)
	setString(&settings.ApprovalMode, strings.ToLower(cfg.Trading.ApprovalMode))
	if err := setDuration(&settings.ConfirmTimeout, cfg.Trading.ConfirmTimeout, "trading.confirm_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.PollInterval, cfg.Trading.PollInterval, "trading.poll_interval"); err != nil {
		return err
	}
	if cfg.Trading.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Trading.GasMultiplier
	}
	if len(cfg.Trading.Tokens) > 0 {
		settings.Tokens = cfg.Trading.Tokens
	}

	setString(&settings.ZeroXQuoteURL, cfg.Providers.ZeroX.QuoteURL)
	setString(&settings.ZeroXAPIKey, cfg.Providers.ZeroX.APIKey)
	if cfg.Providers.ZeroX.APIKeyEnv != "" {
		settings.ZeroXAPIKey = os.Getenv(cfg.Providers.ZeroX.APIKeyEnv)
	}
	setString(&settings.OpenOceanBaseURL, cfg.Providers.OpenOcean.BaseURL)
	setString(&settings.OneInchAPIKey, cfg.Providers.OneInch.APIKey)
	if cfg.Providers.OneInch.APIKeyEnv != "" {
		settings.OneInchAPIKey = os.Getenv(cfg.Providers.OneInch.APIKeyEnv)
	}
	setString(&settings.CoinGeckoBaseURL, cfg.Providers.CoinGecko.BaseURL)

	setString(&settings.ListenAddr, cfg.Server.Listen)
	if len(cfg.Server.CORSOrigins) > 0 {
		settings.CORSOrigins = cleanList(cfg.Server.CORSOrigins)
	}
	setString(&settings.JWTSecret, cfg.Server.JWTSecret.resolve())

	if err := setDuration(&settings.FlowTTL, cfg.Flow.TTL, "flow.ttl"); err != nil {
		return err
	}
	if err := setDuration(&settings.AlertInterval, cfg.Alerts.Interval, "alerts.interval"); err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		settings.KafkaBrokers = cleanList(cfg.Kafka.Brokers)
	}
	setString(&settings.KafkaTopic, cfg.Kafka.Topic)

	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("SWAPDESK_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPDESK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SWAPDESK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SWAPDESK_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPDESK_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPDESK_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	setString(&settings.CachePath, os.Getenv("SWAPDESK_CACHE_PATH"))
	setString(&settings.CacheLockPath, os.Getenv("SWAPDESK_CACHE_LOCK_PATH"))
	setString(&settings.StorePath, os.Getenv("SWAPDESK_STORE_PATH"))
	setString(&settings.StoreLockPath, os.Getenv("SWAPDESK_STORE_LOCK_PATH"))
	if v := os.Getenv("SWAPDESK_RPC_URLS"); v != "" {
		settings.RPCURLs = splitCSV(v)
	}
	if v := os.Getenv("SWAPDESK_RPC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.RPCTimeout = d
		}
	}
	setString(&settings.WalletSecret, os.Getenv("SWAPDESK_WALLET_SECRET"))
	if v := os.Getenv("SWAPDESK_STABLE_SYMBOL"); v != "" {
		settings.StableSymbol = strings.ToUpper(v)
	}
	setString(&settings.StableAddress, os.Getenv("SWAPDESK_STABLE_ADDRESS"))
	if v := os.Getenv("SWAPDESK_STABLE_DECIMALS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SWAPDESK_STABLE_DECIMALS: %w", err)
		}
		settings.StableDecimals = n
	}
	setString(&settings.StableMinBuy, os.Getenv("SWAPDESK_STABLE_MIN_BUY"))
	if v := os.Getenv("SWAPDESK_DEFAULT_SLIPPAGE_BPS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse SWAPDESK_DEFAULT_SLIPPAGE_BPS: %w", err)
		}
		settings.DefaultSlippageBps = n
	}
	setString(&settings.WETHAddress, os.Getenv("SWAPDESK_WETH_ADDRESS"))
	if v := os.Getenv("SWAPDESK_APPROVAL_MODE"); v != "" {
		settings.ApprovalMode = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPDESK_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ConfirmTimeout = d
		}
	}
	setString(&settings.ZeroXQuoteURL, os.Getenv("SWAPDESK_0X_QUOTE_URL"))
	setString(&settings.ZeroXAPIKey, os.Getenv("SWAPDESK_0X_API_KEY"))
	setString(&settings.OpenOceanBaseURL, os.Getenv("SWAPDESK_OPENOCEAN_BASE_URL"))
	setString(&settings.OneInchAPIKey, os.Getenv("SWAPDESK_1INCH_API_KEY"))
	setString(&settings.CoinGeckoBaseURL, os.Getenv("SWAPDESK_COINGECKO_URL"))
	setString(&settings.ListenAddr, os.Getenv("SWAPDESK_LISTEN_ADDR"))
	if v := os.Getenv("SWAPDESK_CORS_ORIGINS"); v != "" {
		settings.CORSOrigins = splitCSV(v)
	}
	setString(&settings.JWTSecret, os.Getenv("SWAPDESK_JWT_SECRET"))
	if v := os.Getenv("SWAPDESK_FLOW_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.FlowTTL = d
		}
	}
	if v := os.Getenv("SWAPDESK_ALERT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.AlertInterval = d
		}
	}
	if v := os.Getenv("SWAPDESK_KAFKA_BROKERS"); v != "" {
		settings.KafkaBrokers = splitCSV(v)
	}
	setString(&settings.KafkaTopic, os.Getenv("SWAPDESK_KAFKA_TOPIC"))
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitCSV(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if strings.TrimSpace(flags.RPCURLs) != "" {
		settings.RPCURLs = splitCSV(flags.RPCURLs)
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func validate(settings Settings) error {
	if settings.ApprovalMode != ApprovalModeExact && settings.ApprovalMode != ApprovalModeMax {
		return fmt.Errorf("approval mode must be %s or %s", ApprovalModeExact, ApprovalModeMax)
	}
	if settings.StableDecimals < 0 || settings.StableDecimals > 36 {
		return fmt.Errorf("stable decimals out of range: %d", settings.StableDecimals)
	}
	if settings.DefaultSlippageBps < 1 || settings.DefaultSlippageBps > 2000 {
		return fmt.Errorf("default slippage must be between 1 and 2000 bps")
	}
	if _, err := strconv.ParseFloat(settings.StableMinBuy, 64); err != nil {
		return fmt.Errorf("stable min buy must be numeric: %w", err)
	}
	for _, endpoint := range append([]string{settings.ZeroXQuoteURL, settings.OpenOceanBaseURL, settings.CoinGeckoBaseURL}, settings.RPCURLs...) {
		if !registry.IsAllowedEndpoint(endpoint) {
			return fmt.Errorf("endpoint must use https (http allowed only on loopback): %s", endpoint)
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func splitCSV(v string) []string {
	return cleanList(strings.Split(v, ","))
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
