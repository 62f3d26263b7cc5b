package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"gopkg.in/validator.v2"

	"github.com/mferny/binance-md/domain"
)

const DefaultEnvFile = ".env"

type Config struct {
	Symbols []string `env:"SYMBOLS" envSeparator:"," envDefault:"btc_usdt" validate:"nonzero"`

	DepthLevels      int           `env:"DEPTH_LEVELS" envDefault:"5" validate:"min=1,max=5000"`
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"5s" validate:"positive"`
	BufferCapacity   int           `env:"BUFFER_CAPACITY" envDefault:"10000" validate:"min=1"`

	SnapshotLimit   int           `env:"SNAPSHOT_LIMIT" envDefault:"1000" validate:"min=1,max=5000"`
	SnapshotRetries uint          `env:"SNAPSHOT_RETRIES" envDefault:"5" validate:"min=1"`
	SnapshotTimeout time.Duration `env:"SNAPSHOT_TIMEOUT" envDefault:"10s" validate:"positive"`

	BinanceStreamEndpoint string `env:"BINANCE_STREAM_ENDPOINT" envDefault:"wss://stream.binance.com:9443/stream" validate:"nonzero"`
	BinanceWSAPIEndpoint  string `env:"BINANCE_WS_API_ENDPOINT" envDefault:"wss://ws-api.binance.com:443/ws-api/v3" validate:"nonzero"`

	// Empty disables the listener.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":8080"`
	RPCAddr     string `env:"RPC_ADDR" envDefault:":50051"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"false"`

	MarketSymbols []*domain.MarketSymbol `env:"-"`
}

// Load resolves the configuration from the env file, the environment and
// args, in increasing order of precedence. Positional args replace SYMBOLS.
// flag.ErrHelp is returned when usage was requested; the usage is written
// to usage.
func Load(args []string, usage io.Writer) (*Config, error) {
	envFile, err := envFileFromArgs(args)
	if err != nil {
		return nil, err
	}
	environment, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
		environment = map[string]string{}
	}
	for k, v := range env.ToMap(os.Environ()) {
		environment[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	flags := cfg.flagSet(usage)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if flags.NArg() > 0 {
		cfg.Symbols = flags.Args()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envFileFromArgs(args []string) (string, error) {
	flags := flag.NewFlagSet("env-file", flag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.SetOutput(io.Discard)
	flags.Usage = func() {}

	envFile := flags.String("env-file", DefaultEnvFile, "")
	if err := flags.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return "", fmt.Errorf("parse flags: %w", err)
	}
	return *envFile, nil
}

func (cfg *Config) flagSet(usage io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet("binance-md", flag.ContinueOnError)
	flags.SortFlags = false
	flags.SetOutput(usage)

	flags.String("env-file", DefaultEnvFile, "dotenv file, ignored when missing")
	flags.IntVar(&cfg.DepthLevels, "depth-levels", cfg.DepthLevels, "levels per side in published depth views")
	flags.DurationVar(&cfg.WatchdogInterval, "watchdog-interval", cfg.WatchdogInterval, "resync when no diff is applied for this long")
	flags.IntVar(&cfg.BufferCapacity, "buffer-capacity", cfg.BufferCapacity, "diffs buffered while awaiting a snapshot")
	flags.IntVar(&cfg.SnapshotLimit, "snapshot-limit", cfg.SnapshotLimit, "levels per side requested in a snapshot")
	flags.UintVar(&cfg.SnapshotRetries, "snapshot-retries", cfg.SnapshotRetries, "attempts per snapshot request")
	flags.DurationVar(&cfg.SnapshotTimeout, "snapshot-timeout", cfg.SnapshotTimeout, "timeout of one snapshot request")
	flags.StringVar(&cfg.BinanceStreamEndpoint, "stream-endpoint", cfg.BinanceStreamEndpoint, "binance combined stream endpoint")
	flags.StringVar(&cfg.BinanceWSAPIEndpoint, "ws-api-endpoint", cfg.BinanceWSAPIEndpoint, "binance websocket api endpoint")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "prometheus listen address, empty disables")
	flags.StringVar(&cfg.RPCAddr, "rpc-addr", cfg.RPCAddr, "grpc listen address, empty disables")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.BoolVarP(&cfg.DebugMode, "debug", "d", cfg.DebugMode, "debug mode")

	flags.Usage = func() {
		fmt.Fprintf(usage, "usage: binance-md [flags] [symbol...]\n%s", flags.FlagUsages())
	}
	return flags
}

// Validate checks the options and parses the symbols into MarketSymbols.
func (cfg *Config) Validate() error {
	vt := validator.NewValidator()
	vt.SetValidationFunc("positive", positive)
	if errs, ok := vt.Validate(cfg).(validator.ErrorMap); ok {
		for field, err := range errs {
			return fmt.Errorf("invalid %s: %s", field, err)
		}
	}

	if _, err := cfg.Level(); err != nil {
		return fmt.Errorf("invalid LogLevel: %w", err)
	}

	cfg.MarketSymbols = cfg.MarketSymbols[:0]
	for _, s := range cfg.Symbols {
		symbol, err := domain.NewMarketSymbolFromString(s)
		if err != nil {
			return fmt.Errorf("invalid symbol: %w", err)
		}
		for _, seen := range cfg.MarketSymbols {
			if seen.Equal(symbol) {
				return fmt.Errorf("duplicate symbol %s", symbol)
			}
		}
		cfg.MarketSymbols = append(cfg.MarketSymbols, symbol)
	}
	return nil
}

// Level is LogLevel, lowered to debug in debug mode.
func (cfg *Config) Level() (zerolog.Level, error) {
	if cfg.DebugMode {
		return zerolog.DebugLevel, nil
	}
	return zerolog.ParseLevel(cfg.LogLevel)
}

func (cfg *Config) MaintainerConfig() domain.MaintainerConfig {
	c := domain.DefaultMaintainerConfig()
	c.DepthLevels = cfg.DepthLevels
	c.WatchdogInterval = cfg.WatchdogInterval
	c.BufferCapacity = cfg.BufferCapacity
	c.SnapshotLimit = cfg.SnapshotLimit
	return c
}

func positive(v interface{}, _ string) error {
	st := reflect.ValueOf(v)
	switch st.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if st.Int() <= 0 {
			return errors.New("must be positive")
		}
	default:
		return validator.ErrUnsupported
	}
	return nil
}
