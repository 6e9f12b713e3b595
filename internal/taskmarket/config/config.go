package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/trigg3rX/taskmarket/pkg/env"
)

type Config struct {
	devMode bool

	// Ledger connection
	rpcURL             string
	chainID            int64
	marketplaceAddress string

	// Caller identity. Without a private key the session is read-only;
	// callerAddress then selects whose view is loaded.
	callerPrivateKey string
	callerAddress    string

	apiPort string

	refreshInterval    time.Duration
	finalityTimeout    time.Duration
	readTimeout        time.Duration
	maxConcurrentReads int
	defaultJudgeCount  uint64

	logDir string
}

// fileConfig is the optional YAML overlay. Environment variables win over
// it; secrets are read from the environment only.
type fileConfig struct {
	DevMode bool `yaml:"dev_mode"`
	Ledger  struct {
		RPCURL             string `yaml:"rpc_url"`
		ChainID            int64  `yaml:"chain_id"`
		MarketplaceAddress string `yaml:"marketplace_address"`
	} `yaml:"ledger"`
	Caller struct {
		Address string `yaml:"address"`
	} `yaml:"caller"`
	API struct {
		Port string `yaml:"port"`
	} `yaml:"api"`
	Sync struct {
		RefreshInterval    string `yaml:"refresh_interval"`
		ReadTimeout        string `yaml:"read_timeout"`
		MaxConcurrentReads int    `yaml:"max_concurrent_reads"`
		DefaultJudgeCount  uint64 `yaml:"default_judge_count"`
	} `yaml:"sync"`
	Write struct {
		FinalityTimeout string `yaml:"finality_timeout"`
	} `yaml:"write"`
	LogDir string `yaml:"log_dir"`
}

var cfg Config

// Init loads .env (if present), the YAML file at path (if set, falling back
// to TASKMARKET_CONFIG_FILE) and the environment, then validates.
func Init(path string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	if path == "" {
		path = env.GetEnvString("TASKMARKET_CONFIG_FILE", "")
	}
	file, err := readFile(path)
	if err != nil {
		return err
	}

	refresh, err := durationOr(file.Sync.RefreshInterval, 30*time.Second)
	if err != nil {
		return fmt.Errorf("invalid sync.refresh_interval: %w", err)
	}
	readTimeout, err := durationOr(file.Sync.ReadTimeout, 20*time.Second)
	if err != nil {
		return fmt.Errorf("invalid sync.read_timeout: %w", err)
	}
	finality, err := durationOr(file.Write.FinalityTimeout, 2*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid write.finality_timeout: %w", err)
	}

	cfg = Config{
		devMode:            env.GetEnvBool("DEV_MODE", file.DevMode),
		rpcURL:             env.GetEnvString("RPC_URL", stringOr(file.Ledger.RPCURL, "http://localhost:8545")),
		chainID:            int64(env.GetEnvUint64("CHAIN_ID", uint64(intOr(file.Ledger.ChainID, 31337)))),
		marketplaceAddress: env.GetEnvString("MARKETPLACE_ADDRESS", file.Ledger.MarketplaceAddress),
		callerPrivateKey:   env.GetEnvString("CALLER_PRIVATE_KEY", ""),
		callerAddress:      env.GetEnvString("CALLER_ADDRESS", file.Caller.Address),
		apiPort:            env.GetEnvString("API_PORT", stringOr(file.API.Port, "9010")),
		refreshInterval:    env.GetEnvDuration("REFRESH_INTERVAL", refresh),
		finalityTimeout:    env.GetEnvDuration("FINALITY_TIMEOUT", finality),
		readTimeout:        env.GetEnvDuration("READ_TIMEOUT", readTimeout),
		maxConcurrentReads: env.GetEnvInt("MAX_CONCURRENT_READS", int(intOr(int64(file.Sync.MaxConcurrentReads), 16))),
		defaultJudgeCount:  env.GetEnvUint64("DEFAULT_JUDGE_COUNT", uint64(intOr(int64(file.Sync.DefaultJudgeCount), 3))),
		logDir:             env.GetEnvString("LOG_DIR", stringOr(file.LogDir, "data")),
	}
	if err := validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !cfg.devMode {
		gin.SetMode(gin.ReleaseMode)
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	var file fileConfig
	if path == "" {
		return file, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return file, fmt.Errorf("failed to parse YAML config file: %w", err)
	}
	return file, nil
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOr(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func validateConfig() error {
	if !env.IsValidRPCURL(cfg.rpcURL) {
		return fmt.Errorf("invalid RPC URL: %s", cfg.rpcURL)
	}
	if cfg.chainID <= 0 {
		return fmt.Errorf("invalid chain id: %d", cfg.chainID)
	}
	if env.IsEmpty(cfg.marketplaceAddress) {
		return fmt.Errorf("MARKETPLACE_ADDRESS is required")
	}
	if !env.IsValidEthAddress(cfg.marketplaceAddress) {
		return fmt.Errorf("invalid marketplace address: %q", cfg.marketplaceAddress)
	}
	if cfg.callerPrivateKey != "" && !env.IsValidPrivateKey(cfg.callerPrivateKey) {
		return fmt.Errorf("invalid caller private key")
	}
	if cfg.callerAddress != "" && !env.IsValidEthAddress(cfg.callerAddress) {
		return fmt.Errorf("invalid caller address: %s", cfg.callerAddress)
	}
	if !env.IsValidPort(cfg.apiPort) {
		return fmt.Errorf("invalid API port: %s", cfg.apiPort)
	}
	if cfg.refreshInterval < time.Second {
		return fmt.Errorf("refresh interval must be at least 1s, got %s", cfg.refreshInterval)
	}
	if cfg.finalityTimeout <= 0 || cfg.readTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if cfg.maxConcurrentReads < 1 {
		return fmt.Errorf("max concurrent reads must be at least 1, got %d", cfg.maxConcurrentReads)
	}
	if cfg.defaultJudgeCount < 1 {
		return fmt.Errorf("default judge count must be at least 1")
	}
	return nil
}

func IsDevMode() bool {
	return cfg.devMode
}

func GetRPCURL() string {
	return cfg.rpcURL
}

func GetChainID() int64 {
	return cfg.chainID
}

func GetMarketplaceAddress() string {
	return cfg.marketplaceAddress
}

func GetCallerPrivateKey() string {
	return cfg.callerPrivateKey
}

func GetCallerAddress() string {
	return cfg.callerAddress
}

func GetAPIPort() string {
	return cfg.apiPort
}

func GetRefreshInterval() time.Duration {
	return cfg.refreshInterval
}

func GetFinalityTimeout() time.Duration {
	return cfg.finalityTimeout
}

func GetReadTimeout() time.Duration {
	return cfg.readTimeout
}

func GetMaxConcurrentReads() int {
	return cfg.maxConcurrentReads
}

func GetDefaultJudgeCount() uint64 {
	return cfg.defaultJudgeCount
}

func GetLogDir() string {
	return cfg.logDir
}
