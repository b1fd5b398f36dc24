// Package config loads process configuration from WAGER_* environment
// variables, with command-line flags taking precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xtding233/wager-backend/internal/kv"
	"github.com/xtding233/wager-backend/internal/logging"
)

const (
	LedgerMemory = "memory"
	LedgerEth    = "eth"
)

type Config struct {
	HTTPAddr       string        `env:"WAGER_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string        `env:"WAGER_GRPC_ADDR" envDefault:":9090"` // empty disables gRPC
	AllowedOrigins []string      `env:"WAGER_ALLOWED_ORIGINS" envSeparator:","`
	FeedInterval   time.Duration `env:"WAGER_FEED_INTERVAL" envDefault:"1s"`

	ConfigDir      string        `env:"WAGER_CONFIG_DIR" envDefault:"configs"`
	ReloadInterval time.Duration `env:"WAGER_RELOAD_INTERVAL" envDefault:"2s"` // 0 disables hot reload

	KVBackend   string `env:"WAGER_KV_BACKEND" envDefault:"memory"` // memory is lost on restart
	KVPath      string `env:"WAGER_KV_PATH" envDefault:"data/kv"`
	JournalPath string `env:"WAGER_JOURNAL_PATH" envDefault:"data/journal.db"`
	AuthTTL     time.Duration `env:"WAGER_AUTH_TTL" envDefault:"10m"`

	Ledger       string `env:"WAGER_LEDGER" envDefault:"memory"`
	HouseAddress string `env:"WAGER_HOUSE_ADDRESS"` // eth ledger defaults to the admin account
	// DevFunds seeds the memory ledger, e.g. "0xabc...:1000,0xdef...:50".
	DevFunds map[string]string `env:"WAGER_DEV_FUNDS" envSeparator:"," envKeyValSeparator:":"`

	EthRPCURL      string        `env:"WAGER_ETH_RPC_URL"`
	EthContract    string        `env:"WAGER_ETH_CONTRACT"`
	EthAdminKey    string        `env:"WAGER_ETH_ADMIN_KEY"`
	EthGasLimit    uint64        `env:"WAGER_ETH_GAS_LIMIT" envDefault:"300000"`
	EthWaitMined   bool          `env:"WAGER_ETH_WAIT_MINED"`
	EthMineTimeout time.Duration `env:"WAGER_ETH_MINE_TIMEOUT" envDefault:"2m"`

	OtelEndpoint    string        `env:"WAGER_OTEL_ENDPOINT"`
	ServiceName     string        `env:"WAGER_SERVICE_NAME" envDefault:"wager-backend"`
	ShutdownTimeout time.Duration `env:"WAGER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Log logging.Config `envPrefix:"WAGER_LOG_"`
}

// Parse reads the environment (os environment when environ is nil), then
// applies flags from args and validates the result.
func Parse(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address, empty to disable")
	fs.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "directory holding games/*.yaml")
	fs.StringVar(&cfg.KVBackend, "kv", cfg.KVBackend, "kv backend: "+strings.Join(kv.Backends(), ", "))
	fs.StringVar(&cfg.KVPath, "kv-path", cfg.KVPath, "data directory for disk kv backends")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "sqlite wager journal path")
	fs.StringVar(&cfg.Ledger, "ledger", cfg.Ledger, "ledger: memory or eth")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if !slices.Contains(kv.Backends(), c.KVBackend) {
		errs = append(errs, fmt.Errorf("unknown kv backend %q", c.KVBackend))
	}
	if c.KVBackend != "memory" && c.KVPath == "" {
		errs = append(errs, fmt.Errorf("kv backend %s needs a path", c.KVBackend))
	}
	if c.JournalPath == "" {
		errs = append(errs, errors.New("journal path is required"))
	}
	if c.AuthTTL <= 0 {
		errs = append(errs, errors.New("auth ttl must be positive"))
	}
	if c.HouseAddress != "" && !common.IsHexAddress(c.HouseAddress) {
		errs = append(errs, fmt.Errorf("house address %q is not a hex address", c.HouseAddress))
	}
	switch c.Ledger {
	case LedgerMemory:
		if c.HouseAddress == "" {
			errs = append(errs, errors.New("memory ledger needs WAGER_HOUSE_ADDRESS"))
		}
	case LedgerEth:
		if c.EthRPCURL == "" {
			errs = append(errs, errors.New("eth ledger needs WAGER_ETH_RPC_URL"))
		}
		if !common.IsHexAddress(c.EthContract) {
			errs = append(errs, errors.New("eth ledger needs a WAGER_ETH_CONTRACT address"))
		}
		if c.EthAdminKey == "" {
			errs = append(errs, errors.New("eth ledger needs WAGER_ETH_ADMIN_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger %q", c.Ledger))
	}
	return errors.Join(errs...)
}
