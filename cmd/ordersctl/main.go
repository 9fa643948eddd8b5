package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"ms-orders/internal/config"
	"ms-orders/internal/database"
	"ms-orders/internal/logger"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Operations for the order service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(voucherCmd())
	rootCmd.AddCommand(hashPinCmd())
	rootCmd.AddCommand(serviceTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func cliLogger() *logger.Logger {
	cfg := config.Load()
	return logger.New(logger.Options{Service: "ordersctl", MinLevel: logger.ParseLevel(cfg.LogLevel), Console: os.Stderr})
}

// openDB connects with the service's DB_* settings.
func openDB(ctx context.Context, log *logger.Logger) (*config.Config, *bun.DB, error) {
	cfg := config.Load()
	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
