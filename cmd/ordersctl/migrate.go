package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ms-orders/internal/database/migrations"
)

var migrationsDir string

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema migrations",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "dir", migrations.DefaultOptions().Dir, "directory holding the .up.sql/.down.sql files")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Up(); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "to [version]",
		Short: "Migrate up or down to an exact version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.To(uint(v)); err != nil {
					return err
				}
				return printVersion(cmd, r)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				return printVersion(cmd, r)
			})
		},
	})

	return cmd
}

func withRunner(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
	log := cliLogger()
	defer log.Close()

	cfg, db, err := openDB(cmd.Context(), log)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.Driver == "sqlite" {
		return errors.New("migrations only apply to postgres; the sqlite schema is created on startup")
	}

	runner := migrations.NewRunner(db, migrations.Options{Dir: migrationsDir}, log)
	defer runner.Close()
	return fn(runner)
}

func printVersion(cmd *cobra.Command, r *migrations.Runner) error {
	version, dirty, err := r.Version()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, state)
	return nil
}
