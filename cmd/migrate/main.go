package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"OrderSettlement/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

const versionTimeFormat = "20060102150405"

func main() {
	var dir string
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "manage the order settlement schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "migrations directory")
	rootCmd.AddCommand(
		upCommand(&dir),
		downCommand(&dir),
		createCommand(&dir),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("migrate failed", "err", err)
		os.Exit(1)
	}
}

func upCommand(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "migrate all the way up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate(*dir)
			if err != nil {
				return err
			}
			defer m.Close()
			return report(m.Up(), "migrated up")
		},
	}
}

func downCommand(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down [n]",
		Short: "roll back n migrations, all of them when n is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate(*dir)
			if err != nil {
				return err
			}
			defer m.Close()
			if len(args) == 0 {
				return report(m.Down(), "migrated down")
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return report(m.Steps(-n), fmt.Sprintf("rolled back %d", n))
		},
	}
}

func createCommand(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "create empty up and down scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := time.Now().UTC().Format(versionTimeFormat)
			base := filepath.Join(*dir, fmt.Sprintf("%s_%s", version, args[0]))
			for _, suffix := range []string{".up.sql", ".down.sql"} {
				if err := os.WriteFile(base+suffix, []byte{}, 0o644); err != nil {
					return err
				}
				fmt.Println("created", base+suffix)
			}
			return nil
		},
	}
}

func newMigrate(dir string) (*migrate.Migrate, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is empty")
	}
	return migrate.New("file://"+dir, pgxURL(cfg.DB.DSN))
}

// pgxURL rewrites a postgres URL to the scheme the pgx/v5 driver registers.
func pgxURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

func report(err error, done string) error {
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no change in migration")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(done)
	return nil
}
