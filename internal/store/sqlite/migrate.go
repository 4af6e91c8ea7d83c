package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type migration struct {
	version int
	name    string
	apply   func(tx *gorm.DB) error
}

// Versions are append-only. A migration may add tables, columns or
// indexes; it never drops or rewrites existing rows.
var migrations = []migration{
	{
		version: 1,
		name:    "transactions, table slots and sequences",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&recordRow{}, &tableSlotRow{}, &sequenceRow{})
		},
	},
	{
		version: 2,
		name:    "lookup indexes",
		apply: func(tx *gorm.DB) error {
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_transactions_sync_status ON transactions (sync_status)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_scope ON transactions (business_location_id, store_location_id)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_table_number ON transactions (table_number)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_bill_status ON transactions (bill_status)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions (created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_table_slots_status ON table_slots (status)`,
			}
			for _, stmt := range stmts {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version: 3,
		name:    "bill tags",
		apply: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&billTagRow{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_bill_tags_name ON bill_tags (tag_name COLLATE NOCASE)`).Error
		},
	},
	{
		version: 4,
		name:    "catalog mirror",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&userRow{}, &categoryRow{}, &itemRow{}, &storeLocationRow{}, &menuRow{})
		},
	},
}

// LatestVersion is the schema version a fully migrated database reports.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

func migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&schemaVersionRow{}); err != nil {
		return fmt.Errorf("migrate schema_versions: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			return tx.Create(&schemaVersionRow{
				Version:   m.version,
				Name:      m.name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migrate v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *gorm.DB) (int, error) {
	var version int
	err := db.WithContext(ctx).
		Model(&schemaVersionRow{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
