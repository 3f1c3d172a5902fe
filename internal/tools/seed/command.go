package seed

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
	"github.com/sandeepkv93/labflags/internal/repository"
	"github.com/sandeepkv93/labflags/internal/service"
	"github.com/sandeepkv93/labflags/internal/tools/common"
	"github.com/sandeepkv93/labflags/internal/tools/ui"
)

type options struct {
	envFile   string
	namespace string
	ci        bool
	timeout   time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed persisted flag overrides from the built-in defaults",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading config")
	cmd.PersistentFlags().StringVar(&opts.namespace, "namespace", "", "override namespace (defaults to OVERRIDE_STORE_NAMESPACE)")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", os.Getenv("CI") == "true", "print a JSON result instead of the interactive view")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "apply",
			Short: "Insert missing default rows",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := run(opts, "Seed", "apply", func(ctx context.Context) ([]string, error) {
					db, namespace, err := openDB(opts)
					if err != nil {
						return nil, err
					}
					return apply(ctx, db, namespace, service.DefaultFeatureFlags())
				})
				return err
			},
		},
		&cobra.Command{
			Use:   "dry-run",
			Short: "List default rows that apply would insert",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := run(opts, "Seed", "dry-run", func(ctx context.Context) ([]string, error) {
					db, namespace, err := openDB(opts)
					if err != nil {
						return nil, err
					}
					return dryRun(ctx, repository.NewFlagOverrideRepository(db), namespace, service.DefaultFeatureFlags())
				})
				return err
			},
		},
	)
	return cmd
}

func apply(ctx context.Context, db *gorm.DB, namespace string, defaults []domain.FlagDefinition) ([]string, error) {
	if err := database.Migrate(db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	report, err := database.SeedOverrides(db.WithContext(ctx), namespace, defaults)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if report.Noop {
		return []string{fmt.Sprintf("namespace %s already seeded", namespace)}, nil
	}
	return []string{fmt.Sprintf("namespace %s: created %d rows", namespace, report.Created)}, nil
}

func dryRun(ctx context.Context, repo repository.FlagOverrideRepository, namespace string, defaults []domain.FlagDefinition) ([]string, error) {
	rows, err := repo.ListByNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		existing[row.Key] = struct{}{}
	}
	var details []string
	for _, def := range defaults {
		if _, ok := existing[def.Key]; ok {
			continue
		}
		details = append(details, fmt.Sprintf("would create %s enabled=%t", def.Key, def.Enabled))
	}
	if len(details) == 0 {
		details = append(details, "nothing to do")
	}
	return details, nil
}

func openDB(opts *options) (*gorm.DB, string, error) {
	if err := common.LoadEnvFile(opts.envFile); err != nil {
		return nil, "", fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	if cfg.DatabaseURL == "" {
		return nil, "", fmt.Errorf("DATABASE_URL is required")
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	namespace := opts.namespace
	if namespace == "" {
		namespace = cfg.OverrideStoreNamespace
	}
	return db, namespace, nil
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
