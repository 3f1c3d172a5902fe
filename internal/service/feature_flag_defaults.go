package service

import "github.com/sandeepkv93/labflags/internal/domain"

// DefaultFeatureFlags is the built-in table used before the backend answers.
// Major surfaces start disabled so nothing flashes on before the authoritative state loads.
func DefaultFeatureFlags() []domain.FlagDefinition {
	betaRollout := 25
	return []domain.FlagDefinition{
		{
			Key:                "course_conception",
			Description:        "Course authoring and conception workspace",
			Category:           domain.FlagCategoryDevelopment,
			ControlledMetrics:  []string{"courses"},
			ControlledFeatures: []string{"course_editor", "course_catalog"},
		},
		{
			Key:                "terminal_management",
			Description:        "Terminal session provisioning for labs",
			Category:           domain.FlagCategoryOps,
			ControlledMetrics:  []string{"terminals", "active_sessions"},
			ControlledFeatures: []string{"terminal_sessions", "lab_launcher"},
		},
		{
			Key:                "organization_management",
			Description:        "Organization and group administration",
			Category:           domain.FlagCategoryOps,
			ControlledMetrics:  []string{"organizations", "groups"},
			ControlledFeatures: []string{"organization_admin", "group_admin"},
		},
		{
			Key:                "subscription_billing",
			Description:        "Subscription plans and billing",
			Category:           domain.FlagCategoryOps,
			ControlledMetrics:  []string{"subscriptions"},
			ControlledFeatures: []string{"billing_portal", "plan_picker"},
		},
		{
			Key:                "bulk_import",
			Description:        "Bulk CSV import of users and groups",
			Category:           domain.FlagCategoryOps,
			AllowedRoles:       []string{"administrator", "manager"},
			ControlledFeatures: []string{"csv_import"},
		},
		{
			Key:                "theme_customization",
			Enabled:            true,
			Description:        "Per-user theme selection",
			Category:           domain.FlagCategoryDevelopment,
			ControlledFeatures: []string{"theme_picker"},
		},
		{
			Key:               "usage_dashboard",
			Enabled:           true,
			Description:       "Usage and quota dashboard",
			Category:          domain.FlagCategoryDevelopment,
			ControlledMetrics: []string{"storage"},
		},
		{
			Key:                "beta_dashboard",
			Enabled:            true,
			Description:        "Redesigned dashboard, partially rolled out",
			Category:           domain.FlagCategoryExperiment,
			RolloutPercentage:  &betaRollout,
			ControlledFeatures: []string{"dashboard_v2"},
		},
		{
			Key:          "debug_panel",
			Enabled:      true,
			Description:  "Diagnostics panel for administrators",
			Category:     domain.FlagCategoryOps,
			AllowedRoles: []string{"administrator"},
		},
	}
}

// DefaultFeatureAliases maps backend feature keys onto local flag keys.
// Several backend keys may collapse onto one local flag; their enabled values are OR-ed.
func DefaultFeatureAliases() map[string]string {
	return map[string]string{
		"terminals":     "terminal_management",
		"labs":          "terminal_management",
		"courses":       "course_conception",
		"organizations": "organization_management",
		"billing":       "subscription_billing",
	}
}

// DefaultMetricTypes is the metric catalogue shown on dashboards.
func DefaultMetricTypes() []string {
	return []string{
		"users",
		"groups",
		"organizations",
		"courses",
		"terminals",
		"active_sessions",
		"subscriptions",
		"storage",
	}
}
