package database

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/labflags/internal/domain"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.FlagOverride{})
}

type SeedReport struct {
	Namespace string
	Created   int
	Noop      bool
}

// SeedOverrides inserts a row for every default flag missing from namespace. Existing rows keep their value.
func SeedOverrides(db *gorm.DB, namespace string, defaults []domain.FlagDefinition) (SeedReport, error) {
	report := SeedReport{Namespace: namespace}
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, def := range defaults {
			row := domain.FlagOverride{Namespace: namespace, Key: def.Key, Enabled: def.Enabled}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			report.Created += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return SeedReport{}, err
	}
	report.Noop = report.Created == 0
	return report, nil
}
