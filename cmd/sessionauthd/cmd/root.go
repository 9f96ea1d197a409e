package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/store"
)

var (
	configPath string
	dsn        string
	redisAddr  string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sessionauthd",
	Short: "Session authentication service and account tooling",
	Long: `sessionauthd runs a demo HTTP server backed by sessionauth and manages
the accounts and login attempts stored in its credential database.

Settings can come from flags, SESSIONAUTH_* environment variables or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(); err != nil {
			return err
		}
		fromEnv(cmd, "config", &configPath, "SESSIONAUTH_CONFIG")
		fromEnv(cmd, "dsn", &dsn, "SESSIONAUTH_DSN")
		fromEnv(cmd, "redis", &redisAddr, "SESSIONAUTH_REDIS_ADDR")

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "TOML config file (env SESSIONAUTH_CONFIG)")
	pf.StringVar(&dsn, "dsn", "sessionauth.db", "SQLite path or postgres:// URL (env SESSIONAUTH_DSN)")
	pf.StringVar(&redisAddr, "redis", "", "Redis address for sessions; empty keeps them in memory (env SESSIONAUTH_REDIS_ADDR)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, userCmd, attemptsCmd)
}

func loadEnv() error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}
	return nil
}

// fromEnv applies an environment variable unless the flag was set.
func fromEnv(cmd *cobra.Command, flag string, dst *string, key string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func loadConfig() (sessionauth.Config, error) {
	if configPath == "" {
		return sessionauth.DefaultConfig(), nil
	}
	return sessionauth.LoadConfigFile(configPath)
}

func openStore(ctx context.Context, cfg sessionauth.Config) (*store.SQLStore, error) {
	opts := store.Options{IdentityField: cfg.Identity.Field}
	if isPostgres(dsn) {
		return store.OpenPostgres(ctx, dsn, opts)
	}
	return store.OpenSQLite(ctx, dsn, opts)
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// environment bundles what every subcommand opens.
type environment struct {
	cfg   sessionauth.Config
	store *store.SQLStore
	redis redis.UniversalClient
	auth  *sessionauth.Authenticator
}

func (e *environment) Close() {
	if e.auth != nil {
		e.auth.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

func openEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg, store: st}

	b := sessionauth.New().
		WithConfig(cfg).
		WithLogger(slog.Default()).
		WithCredentialStore(st).
		WithPermissions(defaultPermissions)
	if redisAddr != "" {
		env.redis = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{redisAddr}})
		if err := env.redis.Ping(ctx).Err(); err != nil {
			env.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", redisAddr, err)
		}
		b = b.WithRedis(env.redis)
	}

	env.auth, err = b.Build()
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}
