package migrate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/labflags/internal/config"
	"github.com/sandeepkv93/labflags/internal/database"
	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/tools/common"
	"github.com/sandeepkv93/labflags/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the flag override schema",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", os.Getenv("CI") == "true", "print a JSON result instead of the interactive view")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply schema migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := run(opts, "Migrate", "up", func(ctx context.Context) ([]string, error) {
					_, db, err := loadConfigDB(opts.envFile)
					if err != nil {
						return nil, err
					}
					if err := database.Migrate(db.WithContext(ctx)); err != nil {
						return nil, fmt.Errorf("migrate: %w", err)
					}
					return []string{"flag_overrides table is up to date"}, nil
				})
				return err
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show schema and row counts",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := run(opts, "Migrate", "status", func(ctx context.Context) ([]string, error) {
					cfg, db, err := loadConfigDB(opts.envFile)
					if err != nil {
						return nil, err
					}
					return status(ctx, db, cfg.OverrideStoreNamespace)
				})
				return err
			},
		},
		&cobra.Command{
			Use:   "plan",
			Short: "List pending schema changes without applying them",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := run(opts, "Migrate", "plan", func(ctx context.Context) ([]string, error) {
					_, db, err := loadConfigDB(opts.envFile)
					if err != nil {
						return nil, err
					}
					return plan(db.WithContext(ctx)), nil
				})
				return err
			},
		},
	)
	return cmd
}

func status(ctx context.Context, db *gorm.DB, namespace string) ([]string, error) {
	if !db.Migrator().HasTable(&domain.FlagOverride{}) {
		return []string{"flag_overrides: missing"}, nil
	}
	var total, inNamespace int64
	if err := db.WithContext(ctx).Model(&domain.FlagOverride{}).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&domain.FlagOverride{}).Where("namespace = ?", namespace).Count(&inNamespace).Error; err != nil {
		return nil, err
	}
	return []string{
		"flag_overrides: present",
		fmt.Sprintf("rows: %d", total),
		fmt.Sprintf("rows in %s: %d", namespace, inNamespace),
	}, nil
}

func plan(db *gorm.DB) []string {
	if !db.Migrator().HasTable(&domain.FlagOverride{}) {
		return []string{"create table flag_overrides", "create index idx_flag_override_ns_key"}
	}
	if !db.Migrator().HasIndex(&domain.FlagOverride{}, "idx_flag_override_ns_key") {
		return []string{"create index idx_flag_override_ns_key"}
	}
	return []string{"nothing to do"}
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

func run(opts *options, title, name string, fn ui.Action) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if opts.ci {
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, title+" "+name, details, err)
		return details, err
	}
	return ui.Run(ctx, title+" "+name, fn)
}
