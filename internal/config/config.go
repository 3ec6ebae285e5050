package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/pkg/db"
	"github.com/ahwlsqja/buddyguard-ops/pkg/redis"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:""`

	Chain     ChainConfig
	Keys      KeysConfig
	Contracts ContractsConfig
	Permit    PermitConfig
	Deploy    DeployConfig
	Journal   JournalConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Metrics   MetricsConfig
}

type ChainConfig struct {
	RPCURL          string        `envconfig:"CHAIN_RPC_URL" default:"http://localhost:8545"`
	InsecureTLS     bool          `envconfig:"CHAIN_INSECURE_TLS" default:"false"`
	TxTimeout       time.Duration `envconfig:"CHAIN_TX_TIMEOUT" default:"2m"`
	PollingInterval time.Duration `envconfig:"CHAIN_POLLING_INTERVAL" default:"1s"`
	GasLimit        uint64        `envconfig:"CHAIN_GAS_LIMIT" default:"0"`
}

// KeysConfig holds one private key per operator role. Keys never leave process memory.
type KeysConfig struct {
	User     string `envconfig:"PRIVATE_KEY_USER" default:""`
	Guardian string `envconfig:"PRIVATE_KEY_GUARDIAN" default:""`
	Deployer string `envconfig:"PRIVATE_KEY_DEPLOYER" default:""`
}

type ContractsConfig struct {
	BuddyGuard string `envconfig:"BUDDYGUARD_ADDRESS" default:""`
	Token      string `envconfig:"TOKEN_ADDRESS" default:""`
	ABIVersion string `envconfig:"BUDDYGUARD_ABI_VERSION" default:"v1"`
	Router     string `envconfig:"CCIP_ROUTER_ADDRESS" default:""`
	LinkToken  string `envconfig:"LINK_TOKEN_ADDRESS" default:""`
}

type PermitConfig struct {
	DefaultVersion string        `envconfig:"PERMIT_DEFAULT_VERSION" default:"1"`
	Validity       time.Duration `envconfig:"PERMIT_VALIDITY" default:"1h"`
	ReserveNonces  bool          `envconfig:"PERMIT_RESERVE_NONCES" default:"false"`
	ReservationTTL time.Duration `envconfig:"PERMIT_RESERVATION_TTL" default:"5m"`
}

type DeployConfig struct {
	RecordPath string `envconfig:"DEPLOYMENTS_PATH" default:"deployments.json"`
}

type JournalConfig struct {
	Driver      string `envconfig:"JOURNAL_DRIVER" default:"none"`
	Path        string `envconfig:"JOURNAL_PATH" default:"buddyguard-journal.json"`
	PostgresDSN string `envconfig:"JOURNAL_POSTGRES_DSN" default:""`
}

type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"3306"`
	User            string        `envconfig:"DB_USER" default:"app"`
	Password        string        `envconfig:"DB_PASSWORD" default:"apppassword"`
	Name            string        `envconfig:"DB_NAME" default:"buddyguard"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// Pool converts the settings for pkg/db.
func (d DatabaseConfig) Pool() db.Config {
	return db.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Name:            d.Name,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Client converts the settings for pkg/redis.
func (r RedisConfig) Client() redis.Config {
	return redis.Config{Host: r.Host, Port: r.Port, Password: r.Password, DB: r.DB}
}

type ServerConfig struct {
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// MetricsConfig points signing commands at a Pushgateway. Commands push
// nothing when the URL is empty.
type MetricsConfig struct {
	PushgatewayURL string `envconfig:"METRICS_PUSHGATEWAY_URL" default:""`
	Job            string `envconfig:"METRICS_JOB" default:"buddyguard"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Role selects which configured key signs a command's transactions.
type Role string

const (
	RoleUser     Role = "user"
	RoleGuardian Role = "guardian"
	RoleDeployer Role = "deployer"
)

var (
	journalDrivers = map[string]bool{"none": true, "memory": true, "file": true, "mysql": true, "postgres": true}
	abiVersions    = map[string]bool{"v1": true, "v2": true}
)

// Load reads the optional env files, then the process environment.
// Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Configuration(fmt.Sprintf("failed to read %s", f)).WithError(err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Configuration("failed to load config").WithError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings every command depends on. Per-command settings
// (keys, addresses) are checked by the accessors below.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return errors.Configuration("CHAIN_RPC_URL is required")
	}
	if c.Chain.PollingInterval <= 0 {
		return errors.Configuration("CHAIN_POLLING_INTERVAL must be positive")
	}
	if c.Chain.TxTimeout <= 0 {
		return errors.Configuration("CHAIN_TX_TIMEOUT must be positive")
	}
	if !journalDrivers[c.Journal.Driver] {
		return errors.Configuration(fmt.Sprintf("unknown JOURNAL_DRIVER %q", c.Journal.Driver))
	}
	if c.Journal.Driver == "postgres" && c.Journal.PostgresDSN == "" {
		return errors.Configuration("JOURNAL_POSTGRES_DSN is required for the postgres journal")
	}
	if !abiVersions[c.Contracts.ABIVersion] {
		return errors.Configuration(fmt.Sprintf("unknown BUDDYGUARD_ABI_VERSION %q", c.Contracts.ABIVersion))
	}
	if c.Permit.ReserveNonces && !c.Redis.Enabled {
		return errors.Configuration("PERMIT_RESERVE_NONCES requires REDIS_ENABLED")
	}
	return nil
}

// KeyFor returns the private key configured for role.
func (c *Config) KeyFor(role Role) (string, error) {
	var key, name string
	switch role {
	case RoleUser:
		key, name = c.Keys.User, "PRIVATE_KEY_USER"
	case RoleGuardian:
		key, name = c.Keys.Guardian, "PRIVATE_KEY_GUARDIAN"
	case RoleDeployer:
		key, name = c.Keys.Deployer, "PRIVATE_KEY_DEPLOYER"
	default:
		return "", errors.Configuration(fmt.Sprintf("unknown signer role %q", role))
	}
	if key == "" {
		return "", errors.Configuration(fmt.Sprintf("%s is not set", name))
	}
	return key, nil
}

// Address resolves a configured contract address, preferring override when it is non-empty.
func Address(name, value, override string) (common.Address, error) {
	if override != "" {
		value = override
	}
	if value == "" {
		return common.Address{}, errors.Configuration(fmt.Sprintf("%s is not set", name))
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.Configuration(fmt.Sprintf("%s is not a valid address: %q", name, value))
	}
	return common.HexToAddress(value), nil
}
