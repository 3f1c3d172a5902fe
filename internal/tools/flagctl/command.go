package flagctl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/security"
	"github.com/sandeepkv93/labflags/internal/tools/common"
	"github.com/sandeepkv93/labflags/internal/tools/ui"
)

type options struct {
	envFile string
	apiURL  string
	token   string
	ci      bool
	timeout time.Duration
}

func (o *options) client() *apiClient {
	token := o.token
	if token == "" {
		token = os.Getenv("LABFLAGS_TOKEN")
	}
	return &apiClient{baseURL: o.apiURL, token: token, http: &http.Client{Timeout: o.timeout}}
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "flagctl",
		Short: "Inspect and administer feature flags on a running labflags API",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.LoadEnvFile(opts.envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			if !cmd.Flags().Changed("api-url") {
				if v := os.Getenv("LABFLAGS_API_URL"); v != "" {
					opts.apiURL = v
				}
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading settings")
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "http://localhost:8080", "labflags API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "access token (defaults to LABFLAGS_TOKEN)")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", os.Getenv("CI") == "true", "print a JSON result instead of the interactive view")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "overall timeout")

	cmd.AddCommand(
		newListCommand(opts),
		newEvalCommand(opts),
		newSetCommand(opts),
		newVisibleMetricsCommand(opts),
		newAdminCommand(opts, "refresh", "Force a backend refresh", http.MethodPost, "/api/v1/admin/feature-flags/refresh"),
		newAdminCommand(opts, "clear-overrides", "Clear persisted overrides and refetch", http.MethodDelete, "/api/v1/admin/feature-flags/local-overrides"),
		newAdminCommand(opts, "restore-overrides", "Re-apply persisted overrides", http.MethodPost, "/api/v1/admin/feature-flags/local-overrides/restore"),
		newTokenCommand(opts),
	)
	return cmd
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known flag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "flagctl", "list", func(ctx context.Context) ([]string, error) {
				var out struct {
					Items []domain.FlagDefinition `json:"items"`
				}
				if err := opts.client().do(ctx, http.MethodGet, "/api/v1/feature-flags", nil, &out); err != nil {
					return nil, err
				}
				return describeFlags(out.Items), nil
			})
			return err
		},
	}
}

func newEvalCommand(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "eval KEY [KEY...]",
		Short: "Evaluate flags for the token's actor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "flagctl", "eval", func(ctx context.Context) ([]string, error) {
				var out struct {
					Enabled bool            `json:"enabled"`
					Results map[string]bool `json:"results"`
				}
				body := map[string]any{"keys": args, "mode": mode}
				if err := opts.client().do(ctx, http.MethodPost, "/api/v1/feature-flags/evaluate", body, &out); err != nil {
					return nil, err
				}
				details := make([]string, 0, len(args)+1)
				for _, key := range args {
					details = append(details, fmt.Sprintf("%s=%t", key, out.Results[key]))
				}
				details = append(details, fmt.Sprintf("%s=%t", mode, out.Enabled))
				return details, nil
			})
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "all", "combine results with all or any")
	return cmd
}

func newSetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY true|false",
		Short: "Enable or disable a flag (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("parse enabled value: %w", err)
			}
			_, err = run(opts, "flagctl", "set", func(ctx context.Context) ([]string, error) {
				var out domain.FlagDefinition
				path := "/api/v1/admin/feature-flags/" + url.PathEscape(args[0])
				if err := opts.client().do(ctx, http.MethodPatch, path, domain.FlagPatch{Enabled: &enabled}, &out); err != nil {
					return nil, err
				}
				return describeFlags([]domain.FlagDefinition{out}), nil
			})
			return err
		},
	}
}

func newVisibleMetricsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "visible-metrics",
		Short: "List metric types visible to the token's actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "flagctl", "visible-metrics", func(ctx context.Context) ([]string, error) {
				var out struct {
					Items []string `json:"items"`
				}
				if err := opts.client().do(ctx, http.MethodGet, "/api/v1/metrics/visible", nil, &out); err != nil {
					return nil, err
				}
				return out.Items, nil
			})
			return err
		},
	}
}

func newAdminCommand(opts *options, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "flagctl", use, func(ctx context.Context) ([]string, error) {
				var out map[string]any
				if err := opts.client().do(ctx, method, path, nil, &out); err != nil {
					return nil, err
				}
				details := make([]string, 0, len(out))
				for k, v := range out {
					details = append(details, fmt.Sprintf("%s: %v", k, v))
				}
				return details, nil
			})
			return err
		},
	}
}

func newTokenCommand(opts *options) *cobra.Command {
	var userID, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token from JWT_SECRET for local use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := mintToken(os.Getenv("JWT_ISSUER"), os.Getenv("JWT_SECRET"), userID, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "flagctl", "subject claim")
	cmd.Flags().StringVar(&role, "role", "administrator", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func mintToken(issuer, secret, userID, role string, ttl time.Duration) (string, error) {
	if len(secret) < 32 {
		return "", fmt.Errorf("JWT_SECRET must be at least 32 chars")
	}
	if issuer == "" {
		issuer = "labflags"
	}
	return security.NewJWTManager(issuer, secret).SignAccessToken(userID, role, ttl)
}

func describeFlags(flags []domain.FlagDefinition) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		line := fmt.Sprintf("%-28s enabled=%-5t category=%s", f.Key, f.Enabled, f.Category)
		var extra []string
		if f.BackendID != "" {
			extra = append(extra, "backend_id="+f.BackendID)
		}
		if f.RolloutPercentage != nil {
			extra = append(extra, fmt.Sprintf("rollout=%d%%", *f.RolloutPercentage))
		}
		if len(f.AllowedRoles) > 0 {
			extra = append(extra, "roles="+strings.Join(f.AllowedRoles, ","))
		}
		if len(extra) > 0 {
			line += " " + strings.Join(extra, " ")
		}
		out = append(out, line)
	}
	return out
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
