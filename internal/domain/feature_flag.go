package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type FlagCategory string

const (
	FlagCategoryDevelopment FlagCategory = "development"
	FlagCategoryOps         FlagCategory = "ops"
	FlagCategoryExperiment  FlagCategory = "experiment"
)

func (c FlagCategory) Valid() bool {
	switch c {
	case FlagCategoryDevelopment, FlagCategoryOps, FlagCategoryExperiment:
		return true
	default:
		return false
	}
}

// FlagDefinition is one entry of the in-memory flag table, keyed by Key.
// BackendID is empty until the flag has been confirmed against the backend.
type FlagDefinition struct {
	Key                string       `json:"key"`
	Name               string       `json:"name,omitempty"`
	Enabled            bool         `json:"enabled"`
	Description        string       `json:"description,omitempty"`
	Category           FlagCategory `json:"category"`
	RolloutPercentage  *int         `json:"rollout_percentage,omitempty"`
	AllowedRoles       []string     `json:"allowed_roles,omitempty"`
	AllowedUsers       []string     `json:"allowed_users,omitempty"`
	ControlledMetrics  []string     `json:"controlled_metrics,omitempty"`
	ControlledFeatures []string     `json:"controlled_features,omitempty"`
	BackendID          string       `json:"backend_id,omitempty"`
	CreatedAt          *time.Time   `json:"created_at,omitempty"`
	UpdatedAt          *time.Time   `json:"updated_at,omitempty"`
}

func (f FlagDefinition) Clone() FlagDefinition {
	out := f
	if f.RolloutPercentage != nil {
		v := *f.RolloutPercentage
		out.RolloutPercentage = &v
	}
	if f.CreatedAt != nil {
		v := *f.CreatedAt
		out.CreatedAt = &v
	}
	if f.UpdatedAt != nil {
		v := *f.UpdatedAt
		out.UpdatedAt = &v
	}
	out.AllowedRoles = slices.Clone(f.AllowedRoles)
	out.AllowedUsers = slices.Clone(f.AllowedUsers)
	out.ControlledMetrics = slices.Clone(f.ControlledMetrics)
	out.ControlledFeatures = slices.Clone(f.ControlledFeatures)
	return out
}

func (f FlagDefinition) Validate() error {
	if strings.TrimSpace(f.Key) == "" {
		return fmt.Errorf("flag key is required")
	}
	if f.Category != "" && !f.Category.Valid() {
		return fmt.Errorf("invalid category %q", f.Category)
	}
	if f.RolloutPercentage != nil && (*f.RolloutPercentage < 0 || *f.RolloutPercentage > 100) {
		return fmt.Errorf("rollout percentage must be between 0 and 100")
	}
	return nil
}

// FlagPatch is a shallow partial update; nil fields are left untouched.
type FlagPatch struct {
	Enabled            *bool         `json:"enabled,omitempty"`
	Description        *string       `json:"description,omitempty"`
	Category           *FlagCategory `json:"category,omitempty"`
	RolloutPercentage  *int          `json:"rollout_percentage,omitempty"`
	AllowedRoles       []string      `json:"allowed_roles,omitempty"`
	AllowedUsers       []string      `json:"allowed_users,omitempty"`
	ControlledMetrics  []string      `json:"controlled_metrics,omitempty"`
	ControlledFeatures []string      `json:"controlled_features,omitempty"`
}

func (p FlagPatch) Validate() error {
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("invalid category %q", *p.Category)
	}
	if p.RolloutPercentage != nil && (*p.RolloutPercentage < 0 || *p.RolloutPercentage > 100) {
		return fmt.Errorf("rollout percentage must be between 0 and 100")
	}
	return nil
}

func (p FlagPatch) ApplyTo(f *FlagDefinition) {
	if p.Enabled != nil {
		f.Enabled = *p.Enabled
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Category != nil {
		f.Category = *p.Category
	}
	if p.RolloutPercentage != nil {
		v := *p.RolloutPercentage
		f.RolloutPercentage = &v
	}
	if p.AllowedRoles != nil {
		f.AllowedRoles = slices.Clone(p.AllowedRoles)
	}
	if p.AllowedUsers != nil {
		f.AllowedUsers = slices.Clone(p.AllowedUsers)
	}
	if p.ControlledMetrics != nil {
		f.ControlledMetrics = slices.Clone(p.ControlledMetrics)
	}
	if p.ControlledFeatures != nil {
		f.ControlledFeatures = slices.Clone(p.ControlledFeatures)
	}
}

// BackendFeature is one feature as declared by the remote system of record.
type BackendFeature struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name,omitempty"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description,omitempty"`
	Module      string     `json:"module,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// UnmarshalJSON accepts numeric or string ids and falls back to name when key is absent.
func (b *BackendFeature) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		Key         string          `json:"key"`
		Name        string          `json:"name"`
		Enabled     bool            `json:"enabled"`
		Description string          `json:"description"`
		Module      string          `json:"module"`
		CreatedAt   *time.Time      `json:"created_at"`
		UpdatedAt   *time.Time      `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := rawID(raw.ID)
	if err != nil {
		return err
	}
	key := raw.Key
	if key == "" {
		key = raw.Name
	}
	*b = BackendFeature{
		ID:          id,
		Key:         key,
		Name:        raw.Name,
		Enabled:     raw.Enabled,
		Description: raw.Description,
		Module:      raw.Module,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
	}
	return nil
}

func rawID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode feature id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
