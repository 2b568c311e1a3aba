package config

import (
	"strings"
	"time"
)

// Validation tags described here: https://pkg.go.dev/github.com/go-playground/validator/v10
type Config struct {
	Environment string `env:"ENVIRONMENT" flag:"environment"`
	Contract    struct {
		DefaultExpiry    time.Duration `env:"CONTRACT_DEFAULT_EXPIRY"     flag:"contract-default-expiry"     validate:"omitempty,min=0"   desc:"expiry applied to contracts created without an expiry date"`
		MaxDocumentBytes int           `env:"CONTRACT_MAX_DOCUMENT_BYTES" flag:"contract-max-document-bytes" validate:"omitempty,min=0" desc:"maximum size of a contract document"`
		LockTimeout      time.Duration `env:"CONTRACT_LOCK_TIMEOUT"       flag:"contract-lock-timeout"       validate:"omitempty,min=0"   desc:"time to wait for the per-contract lock before giving up"`
		SweepInterval    time.Duration `env:"CONTRACT_SWEEP_INTERVAL"     flag:"contract-sweep-interval"     validate:"omitempty,min=0"   desc:"interval between expiry sweeps"`
	}
	Settlement struct {
		Ledger            string        `env:"SETTLEMENT_LEDGER"             flag:"settlement-ledger"             validate:"omitempty,oneof=memory ethereum"`
		MaxAttempts       int           `env:"SETTLEMENT_MAX_ATTEMPTS"       flag:"settlement-max-attempts"       validate:"omitempty,min=0" desc:"inconclusive outcomes tolerated before the contract is disputed"`
		BaseDelay         time.Duration `env:"SETTLEMENT_BASE_DELAY"         flag:"settlement-base-delay"         validate:"omitempty,min=0"   desc:"delay before the first settlement poll, doubled on every retry"`
		MaxDelay          time.Duration `env:"SETTLEMENT_MAX_DELAY"          flag:"settlement-max-delay"          validate:"omitempty,min=0"  `
		PollInterval      time.Duration `env:"SETTLEMENT_POLL_INTERVAL"      flag:"settlement-poll-interval"      validate:"omitempty,min=0"   desc:"interval between checks for due settlements"`
		RateLimit         float64       `env:"SETTLEMENT_RATE_LIMIT"         flag:"settlement-rate-limit"                                       desc:"ledger submissions per second"`
		RateBurst         int           `env:"SETTLEMENT_RATE_BURST"         flag:"settlement-rate-burst"         validate:"omitempty,min=0"`
		CallbackToken     string        `env:"SETTLEMENT_CALLBACK_TOKEN"     flag:"settlement-callback-token"                                   desc:"bearer token required to push settlement outcomes, disables the callback if empty"`
		EthNodeAddress    string        `env:"ETH_NODE_ADDRESS"              flag:"eth-node-address"              validate:"required_if=Ledger ethereum,omitempty,url"`
		EthLegacyTx       bool          `env:"ETH_NODE_LEGACY_TX"            flag:"eth-node-legacy-tx"                                          desc:"use it to disable EIP-1559 transactions"`
		ContractAddress   string        `env:"SETTLEMENT_CONTRACT_ADDRESS"   flag:"settlement-contract-address"   validate:"required_if=Ledger ethereum,omitempty,eth_addr"`
		GasLimit          uint64        `env:"SETTLEMENT_GAS_LIMIT"          flag:"settlement-gas-limit"                                        desc:"fixed gas limit, estimated if empty"`
		Confirmations     uint64        `env:"SETTLEMENT_CONFIRMATIONS"      flag:"settlement-confirmations"                                    desc:"blocks on top of the settlement block before it is considered final"`
		Mnemonic          string        `env:"WALLET_MNEMONIC"               flag:"wallet-mnemonic"`
		AccountIndex      int           `env:"WALLET_ACCOUNT_INDEX"          flag:"wallet-account-index"          validate:"omitempty,min=0"`
		WalletPrivateKey  string        `env:"WALLET_PRIVATE_KEY"            flag:"wallet-private-key"            validate:"omitempty,hexadecimal"`
	}
	Storage struct {
		Driver      string `env:"STORAGE_DRIVER"       flag:"storage-driver"       validate:"omitempty,oneof=memory postgres"`
		DatabaseURL string `env:"DATABASE_URL"         flag:"database-url"         validate:"required_if=Driver postgres,omitempty,url"`
		MaxConns    int    `env:"DATABASE_MAX_CONNS"   flag:"database-max-conns"   validate:"omitempty,min=0"`
		Migrate     bool   `env:"DATABASE_MIGRATE"     flag:"database-migrate"     desc:"apply schema migrations on startup"`
	}
	Lock struct {
		Driver        string        `env:"LOCK_DRIVER"         flag:"lock-driver"         validate:"omitempty,oneof=local redis" desc:"redis is required when several instances share the storage"`
		RedisAddress  string        `env:"REDIS_ADDRESS"       flag:"redis-address"       validate:"required_if=Driver redis,omitempty,hostname_port"`
		RedisPassword string        `env:"REDIS_PASSWORD"      flag:"redis-password"`
		RedisDB       int           `env:"REDIS_DB"            flag:"redis-db"            validate:"omitempty,min=0"`
		TTL           time.Duration `env:"LOCK_TTL"            flag:"lock-ttl"            validate:"omitempty,min=0"  desc:"redis lock lease, extended while held so it only bounds how long a crashed holder blocks others"`
		RetryInterval time.Duration `env:"LOCK_RETRY_INTERVAL" flag:"lock-retry-interval" validate:"omitempty,min=0"  `
	}
	Log struct {
		Color           bool   `env:"LOG_COLOR"            flag:"log-color"`
		FolderPath      string `env:"LOG_FOLDER_PATH"      flag:"log-folder-path"      validate:"omitempty,dirpath"    desc:"enables file logging and sets the folder path"`
		IsProd          bool   `env:"LOG_IS_PROD"          flag:"log-is-prod"          validate:""                     desc:"affects the format of the log output"`
		JSON            bool   `env:"LOG_JSON"             flag:"log-json"`
		LevelApp        string `env:"LOG_LEVEL_APP"        flag:"log-level-app"        validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelHTTP       string `env:"LOG_LEVEL_HTTP"       flag:"log-level-http"       validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelSettlement string `env:"LOG_LEVEL_SETTLEMENT" flag:"log-level-settlement" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelStorage    string `env:"LOG_LEVEL_STORAGE"    flag:"log-level-storage"    validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	}
	Web struct {
		Address    string `env:"WEB_ADDRESS"     flag:"web-address"     validate:"required,hostname_port" desc:"http server address host:port"`
		AdminToken string `env:"WEB_ADMIN_TOKEN" flag:"web-admin-token"                                   desc:"bearer token for administrative endpoints, disables them if empty"`
	}
}

func (cfg *Config) SetDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Contract

	if cfg.Contract.DefaultExpiry == 0 {
		cfg.Contract.DefaultExpiry = 7 * 24 * time.Hour
	}
	if cfg.Contract.MaxDocumentBytes == 0 {
		cfg.Contract.MaxDocumentBytes = 1 << 20
	}
	if cfg.Contract.LockTimeout == 0 {
		cfg.Contract.LockTimeout = 10 * time.Second
	}
	if cfg.Contract.SweepInterval == 0 {
		cfg.Contract.SweepInterval = time.Minute
	}

	// Settlement

	if cfg.Settlement.Ledger == "" {
		cfg.Settlement.Ledger = "memory"
	}
	if cfg.Settlement.MaxAttempts == 0 {
		cfg.Settlement.MaxAttempts = 3
	}
	if cfg.Settlement.BaseDelay == 0 {
		cfg.Settlement.BaseDelay = 15 * time.Second
	}
	if cfg.Settlement.MaxDelay == 0 {
		cfg.Settlement.MaxDelay = 5 * time.Minute
	}
	if cfg.Settlement.PollInterval == 0 {
		cfg.Settlement.PollInterval = 5 * time.Second
	}
	if cfg.Settlement.RateLimit == 0 {
		cfg.Settlement.RateLimit = 5
	}
	if cfg.Settlement.RateBurst == 0 {
		cfg.Settlement.RateBurst = 10
	}
	if cfg.Settlement.Confirmations == 0 {
		cfg.Settlement.Confirmations = 1
	}

	// normalizes private key
	cfg.Settlement.WalletPrivateKey = strings.TrimPrefix(cfg.Settlement.WalletPrivateKey, "0x")

	// Storage

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.MaxConns == 0 {
		cfg.Storage.MaxConns = 10
	}

	// Lock

	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "local"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 30 * time.Second
	}
	if cfg.Lock.RetryInterval == 0 {
		cfg.Lock.RetryInterval = 50 * time.Millisecond
	}

	// Log

	if cfg.Log.LevelApp == "" {
		cfg.Log.LevelApp = "debug"
	}
	if cfg.Log.LevelHTTP == "" {
		cfg.Log.LevelHTTP = "info"
	}
	if cfg.Log.LevelSettlement == "" {
		cfg.Log.LevelSettlement = "debug"
	}
	if cfg.Log.LevelStorage == "" {
		cfg.Log.LevelStorage = "info"
	}

	// Web

	if cfg.Web.Address == "" {
		cfg.Web.Address = "0.0.0.0:8080"
	}
}

// GetSanitized returns a copy of the config with sensitive data removed
// explicitly adding each field here to avoid accidentally leaking sensitive data
func (cfg *Config) GetSanitized() interface{} {
	publicCfg := Config{}

	publicCfg.Environment = cfg.Environment

	publicCfg.Contract = cfg.Contract

	publicCfg.Settlement.Ledger = cfg.Settlement.Ledger
	publicCfg.Settlement.MaxAttempts = cfg.Settlement.MaxAttempts
	publicCfg.Settlement.BaseDelay = cfg.Settlement.BaseDelay
	publicCfg.Settlement.MaxDelay = cfg.Settlement.MaxDelay
	publicCfg.Settlement.PollInterval = cfg.Settlement.PollInterval
	publicCfg.Settlement.RateLimit = cfg.Settlement.RateLimit
	publicCfg.Settlement.RateBurst = cfg.Settlement.RateBurst
	publicCfg.Settlement.EthLegacyTx = cfg.Settlement.EthLegacyTx
	publicCfg.Settlement.ContractAddress = cfg.Settlement.ContractAddress
	publicCfg.Settlement.GasLimit = cfg.Settlement.GasLimit
	publicCfg.Settlement.Confirmations = cfg.Settlement.Confirmations
	publicCfg.Settlement.AccountIndex = cfg.Settlement.AccountIndex

	publicCfg.Storage.Driver = cfg.Storage.Driver
	publicCfg.Storage.MaxConns = cfg.Storage.MaxConns
	publicCfg.Storage.Migrate = cfg.Storage.Migrate

	publicCfg.Lock.Driver = cfg.Lock.Driver
	publicCfg.Lock.RedisAddress = cfg.Lock.RedisAddress
	publicCfg.Lock.RedisDB = cfg.Lock.RedisDB
	publicCfg.Lock.TTL = cfg.Lock.TTL
	publicCfg.Lock.RetryInterval = cfg.Lock.RetryInterval

	publicCfg.Log = cfg.Log

	publicCfg.Web.Address = cfg.Web.Address

	return publicCfg
}
