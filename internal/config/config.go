// Package config loads the lottery daemon configuration from a YAML file, an
// optional .env file and LOTTERY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/lottery_layer/internal/coin"
)

// DefaultPath is read when no explicit path is given.
var DefaultPath = filepath.Join("config", "lottery.yaml")

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Address formats accepted for senders and recipients.
const (
	AddressFormatNeo = "neo"
	AddressFormatAny = "any"
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Storage   StorageConfig    `yaml:"storage"`
	Lottery   LotteryConfig    `yaml:"lottery"`
	Auth      AuthConfig       `yaml:"auth"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Events    EventsConfig     `yaml:"events"`
	Genesis   []GenesisAccount `yaml:"genesis"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"LOTTERY_SERVER_HOST"`
	Port         int           `yaml:"port" env:"LOTTERY_SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"LOTTERY_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"LOTTERY_SERVER_WRITE_TIMEOUT"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOTTERY_LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOTTERY_LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOTTERY_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOTTERY_LOG_FILE_PREFIX"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver" env:"LOTTERY_STORAGE_DRIVER"`
	DSN       string `yaml:"dsn" env:"LOTTERY_DATABASE_DSN"`
	RedisAddr string `yaml:"redis_addr" env:"LOTTERY_REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" env:"LOTTERY_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"LOTTERY_KEY_PREFIX"`
}

// LotteryConfig describes the deployed contract. ContractAddress is the escrow
// account that holds pooled funds.
type LotteryConfig struct {
	ContractAddress string     `yaml:"contract_address" env:"LOTTERY_CONTRACT_ADDRESS"`
	Admin           string     `yaml:"admin" env:"LOTTERY_ADMIN"`
	TicketPrice     CoinConfig `yaml:"ticket_price"`
	RoundDuration   uint64     `yaml:"round_duration" env:"LOTTERY_ROUND_DURATION"`
	AutoInstantiate bool       `yaml:"auto_instantiate" env:"LOTTERY_AUTO_INSTANTIATE"`
	AddressFormat   string     `yaml:"address_format" env:"LOTTERY_ADDRESS_FORMAT"`
	SelectionTag    string     `yaml:"selection_tag" env:"LOTTERY_SELECTION_TAG"`
}

type CoinConfig struct {
	Denom  string `yaml:"denom" env:"LOTTERY_TICKET_DENOM"`
	Amount string `yaml:"amount" env:"LOTTERY_TICKET_AMOUNT"`
}

// Coin parses the configured amount.
func (c CoinConfig) Coin() (coin.Coin, error) {
	amount, err := coin.ParseUint(c.Amount)
	if err != nil {
		return coin.Coin{}, err
	}
	out := coin.Coin{Denom: c.Denom, Amount: amount}
	return out, out.Validate()
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"LOTTERY_JWT_SECRET"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"LOTTERY_RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"LOTTERY_RATE_LIMIT_BURST"`
}

type EventsConfig struct {
	Capacity int `yaml:"capacity" env:"LOTTERY_EVENTS_CAPACITY"`
}

// GenesisAccount seeds a bank balance on an empty store, for local networks.
type GenesisAccount struct {
	Address string `yaml:"address"`
	Denom   string `yaml:"denom"`
	Amount  string `yaml:"amount"`
}

// Default returns a configuration suitable for a local in-memory daemon.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Storage: StorageConfig{Driver: DriverMemory, KeyPrefix: "lottery:"},
		Lottery: LotteryConfig{
			TicketPrice:   CoinConfig{Denom: "orai", Amount: "1"},
			RoundDuration: 3600,
			AddressFormat: AddressFormatNeo,
		},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Events:    EventsConfig{Capacity: 1000},
	}
}

// Load reads path (DefaultPath when empty), then .env, then the environment.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from LOTTERY_* variables that are set.
func (c *Config) ApplyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	if origins := os.Getenv("LOTTERY_CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	return nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	// without a secret the sender comes from the request body
	if c.Storage.Driver != DriverMemory && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required for the %s driver", c.Storage.Driver)
	}

	switch c.Lottery.AddressFormat {
	case AddressFormatNeo, AddressFormatAny:
	default:
		return fmt.Errorf("unknown lottery.address_format %q", c.Lottery.AddressFormat)
	}

	if strings.TrimSpace(c.Lottery.ContractAddress) == "" {
		return errors.New("lottery.contract_address is required")
	}
	if c.Lottery.AutoInstantiate {
		price, err := c.Lottery.TicketPrice.Coin()
		if err != nil {
			return fmt.Errorf("lottery.ticket_price: %w", err)
		}
		if price.IsZero() {
			return errors.New("lottery.ticket_price must be positive when auto_instantiate is set")
		}
		if c.Lottery.Admin == "" {
			return errors.New("lottery.admin is required when auto_instantiate is set")
		}
	}

	if c.RateLimit.RPS < 0 {
		return errors.New("rate_limit.rps must not be negative")
	}

	for i, g := range c.Genesis {
		if g.Address == "" {
			return fmt.Errorf("genesis[%d]: address is required", i)
		}
		if _, err := (CoinConfig{Denom: g.Denom, Amount: g.Amount}).Coin(); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
