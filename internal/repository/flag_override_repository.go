package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/observability"
)

type FlagOverrideRepository interface {
	ListByNamespace(ctx context.Context, namespace string) ([]domain.FlagOverride, error)
	ReplaceNamespace(ctx context.Context, namespace string, rows []domain.FlagOverride) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

type GormFlagOverrideRepository struct{ db *gorm.DB }

func NewFlagOverrideRepository(db *gorm.DB) FlagOverrideRepository {
	return &GormFlagOverrideRepository{db: db}
}

func (r *GormFlagOverrideRepository) ListByNamespace(ctx context.Context, namespace string) ([]domain.FlagOverride, error) {
	var rows []domain.FlagOverride
	err := r.db.WithContext(ctx).Where("namespace = ?", namespace).Order("key asc").Find(&rows).Error
	if err != nil {
		observability.RecordStoreOperation(ctx, "database", "list", "error")
		return nil, err
	}
	observability.RecordStoreOperation(ctx, "database", "list", "success")
	return rows, nil
}

// ReplaceNamespace upserts every row and drops keys no longer present, in one transaction.
func (r *GormFlagOverrideRepository) ReplaceNamespace(ctx context.Context, namespace string, rows []domain.FlagOverride) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys := make([]string, 0, len(rows))
		for i := range rows {
			rows[i].Namespace = namespace
			rows[i].Key = strings.TrimSpace(rows[i].Key)
			keys = append(keys, rows[i].Key)
		}
		stale := tx.Where("namespace = ?", namespace)
		if len(keys) > 0 {
			stale = stale.Where("key NOT IN ?", keys)
		}
		if err := stale.Delete(&domain.FlagOverride{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		observability.RecordStoreOperation(ctx, "database", "replace", "error")
		return err
	}
	observability.RecordStoreOperation(ctx, "database", "replace", "success")
	return nil
}

func (r *GormFlagOverrideRepository) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := r.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&domain.FlagOverride{}).Error; err != nil {
		observability.RecordStoreOperation(ctx, "database", "delete", "error")
		return err
	}
	observability.RecordStoreOperation(ctx, "database", "delete", "success")
	return nil
}
