package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"finboard/services/dashboard/internal/app"
	"finboard/services/dashboard/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Personal finance dashboard: accounts, preferences, reminders, assistant and market data",
	// Running without a subcommand starts the HTTP server.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("DASHBOARD_CONFIG"), "path to config.yaml (env DASHBOARD_CONFIG)")
	rootCmd.AddCommand(serveCmd, migrateCmd, chatCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.FileConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.FileConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newApp builds the core application from file config, including the
// optional assistant and market providers.
func newApp(ctx context.Context, cfg config.FileConfig) (*app.App, error) {
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return nil, err
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	marketTimeout, err := config.ParseMarketTimeout(cfg.Market.Timeout)
	if err != nil {
		return nil, err
	}

	generator, err := app.NewGenerator(ctx, app.GeneratorConfig{
		Provider: cfg.AI.Provider,
		APIKey:   cfg.AI.APIKey,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init assistant: %w", err)
	}
	quotes, err := app.NewMarketProvider(app.MarketConfig{
		APIKey:  cfg.Market.APIKey,
		BaseURL: cfg.Market.BaseURL,
		Timeout: marketTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init market provider: %w", err)
	}

	appCfg := app.Config{
		DatabaseURL:          cfg.DatabaseURL,
		ReusePolicy:          cfg.ReusePolicy(),
		AllowDeleteCompleted: cfg.Reminders.AllowDeleteCompleted,
		RedisAddr:            cfg.RedisAddr,
		RedisPassword:        cfg.RedisPassword,
		SessionTTL:           sessionTTL,
		JWTPrivateKeyPath:    cfg.JWTPrivateKeyPath,
		JWTKeyID:             cfg.JWTKeyID,
		JWTVerifyPublicKeys:  verifyKeys,
		JWTIssuer:            cfg.JWTIssuer,
		JWTAudience:          cfg.JWTAudience,
		JWTLeeway:            leeway,
		UpcomingDays:         cfg.Reminders.UpcomingDays,
		HistoryLimit:         cfg.AI.HistoryLimit,
		Currency:             cfg.AI.Currency,
		Watchlist:            cfg.Market.Watchlist,
		Generator:            generator,
		Market:               quotes,
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return appCore, nil
}
