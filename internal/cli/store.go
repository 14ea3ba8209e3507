package cli

import (
	"context"
	"fmt"

	"github.com/harun/learnstate/internal/config"
	"github.com/harun/learnstate/internal/logger"
	"github.com/harun/learnstate/internal/tracing"
	"github.com/harun/learnstate/pkg/learnstore"
	"github.com/spf13/cobra"
)

// loadConfig loads the config file and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loggerConfig(cfg *config.Config, console bool) logger.Config {
	return logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    console,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
}

func storeOptions(cfg *config.Config) learnstore.Options {
	return learnstore.Options{
		Path:            cfg.Store.Path,
		CreateIfMissing: cfg.Store.CreateIfMissing,
		SerializeWrites: cfg.Store.SerializeWrites,
		ValidateSchema:  cfg.Store.ValidateSchema,
	}
}

// storeCommand wraps a command body that needs the session store. One-shot
// commands log to the log file only so stdout stays scriptable.
func storeCommand(fn func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log, err := logger.New(loggerConfig(cfg, false))
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer log.Close()

		store, err := learnstore.New(storeOptions(cfg))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = tracing.NewRequestContext(ctx)

		return fn(ctx, cmd, store, args)
	}
}
