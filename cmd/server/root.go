package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/broadcast-server-go/internal/config"
	"github.com/openclaw/broadcast-server-go/internal/database"
	"github.com/openclaw/broadcast-server-go/internal/redis"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

type rootOptions struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "broadcast-server",
		Short:         "Recurring group broadcasts from linked messaging accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")

	cmd.AddCommand(
		newServeCmd(opts),
		newDispatchCmd(opts),
		newPromoteCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(isProduction()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	o.cfg = cfg
	return nil
}

func isProduction() bool {
	return os.Getenv("FLY_APP_NAME") != "" || os.Getenv("APP_ENV") == "production"
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// openDatabase connects, pings and applies the schema.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Connect(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log.Info().Str("driver", db.Driver).Msg("database connected")
	return db, nil
}

func openRedis(cfg *config.Config) (*redis.Client, error) {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("redis connected")
	return client, nil
}

// credentialCipher returns nil when ENCRYPTION_KEY is unset.
func credentialCipher(cfg *config.Config) (*util.Cipher, error) {
	if cfg.EncryptionKey == "" {
		return nil, nil
	}
	return util.NewCipher(cfg.EncryptionKey)
}

// handshakeCipher falls back to a per-process key, which invalidates pending
// handshakes on restart and breaks them across instances.
func handshakeCipher(cfg *config.Config) (*util.Cipher, error) {
	key := cfg.HandshakeKey
	if key == "" {
		generated, err := util.RandomKey()
		if err != nil {
			return nil, err
		}
		key = generated
		log.Warn().Msg("HANDSHAKE_KEY is empty: using an ephemeral key, pending logins will not survive a restart")
	}
	return util.NewCipher(key)
}
