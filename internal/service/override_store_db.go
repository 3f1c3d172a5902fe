package service

import (
	"context"
	"sort"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/repository"
)

// DBOverrideStore persists snapshots as one row per flag key within a namespace.
type DBOverrideStore struct {
	repo      repository.FlagOverrideRepository
	namespace string
}

func NewDBOverrideStore(repo repository.FlagOverrideRepository, namespace string) *DBOverrideStore {
	if namespace == "" {
		namespace = "feature_flags"
	}
	return &DBOverrideStore{repo: repo, namespace: namespace}
}

func (s *DBOverrideStore) Save(ctx context.Context, snapshot OverrideSnapshot) error {
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([]domain.FlagOverride, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, domain.FlagOverride{Key: key, Enabled: snapshot[key].Enabled})
	}
	return s.repo.ReplaceNamespace(ctx, s.namespace, rows)
}

func (s *DBOverrideStore) Load(ctx context.Context) (OverrideSnapshot, error) {
	rows, err := s.repo.ListByNamespace(ctx, s.namespace)
	if err != nil {
		return nil, err
	}
	out := make(OverrideSnapshot, len(rows))
	for _, row := range rows {
		out[row.Key] = StoredFlagState{Enabled: row.Enabled}
	}
	return out, nil
}

func (s *DBOverrideStore) Clear(ctx context.Context) error {
	return s.repo.DeleteNamespace(ctx, s.namespace)
}
