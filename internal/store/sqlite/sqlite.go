// Package sqlite is the on-device store: a single SQLite file opened
// through gorm with a versioned, additive schema.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

type Store struct {
	db *gorm.DB
}

type Options struct {
	Path    string
	LogMode bool
}

// Open creates the database file if needed, applies pending migrations and
// returns a ready store. Write transactions start with BEGIN IMMEDIATE so
// concurrent writers queue on the busy timeout instead of failing on lock
// upgrade.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gormLogger := logger.Default
	if !opts.LogMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", opts.Path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrate(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// mapErr converts gorm and context failures into store errors. Rule
// rejections raised inside a transaction pass through unchanged.
func mapErr(ctx context.Context, err error) error {
	if err == nil || store.IsLogical(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrStorageTimeout, err)
	}
	return store.MapContextErr(err)
}

func (s *Store) CreateRecord(ctx context.Context, rec domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if err := store.ValidateNewRecord(rec); err != nil {
		return nil, err
	}
	row := toRecordRow(rec)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if table := rec.TableNumber(); table != "" {
			if err := occupySlot(tx, table); err != nil {
				return err
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: duplicate local id %s", store.ErrInvalidRecord, rec.LocalID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(ctx, err)
	}

	created := row.toDomain()
	return &created, nil
}

// occupySlot flips a slot to occupied only if it is currently available.
func occupySlot(tx *gorm.DB, table string) error {
	res := tx.Model(&tableSlotRow{}).
		Where("table_number = ? AND status = ?", table, domain.TableAvailable).
		Update("status", domain.TableOccupied)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var n int64
	if err := tx.Model(&tableSlotRow{}).Where("table_number = ?", table).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return store.ErrTableNotFound
	}
	return store.ErrTableOccupied
}

func (s *Store) GetRecord(ctx context.Context, localID string) (*domain.TransactionRecord, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).Where("local_id = ?", localID).Take(&row).Error; err != nil {
		return nil, mapErr(ctx, err)
	}
	rec := row.toDomain()
	return &rec, nil
}

func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.TransactionRecord, error) {
	query := s.db.WithContext(ctx).Model(&recordRow{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		query = query.Where("sync_status IN ?", statuses)
	}
	if filter.BusinessLocationID != "" {
		query = query.Where("business_location_id = ?", filter.BusinessLocationID)
	}
	if filter.StoreLocationID != "" {
		query = query.Where("store_location_id = ?", filter.StoreLocationID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []recordRow
	if err := query.Order("created_at ASC").Order("local_id ASC").Find(&rows).Error; err != nil {
		return nil, mapErr(ctx, err)
	}
	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateRecordContent(ctx context.Context, localID string, items []domain.LineItem, total decimal.Decimal, notes *string, at time.Time) (*domain.TransactionRecord, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidRecord
	}

	var row recordRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("local_id = ?", localID).Take(&row).Error; err != nil {
			return err
		}
		if row.Kind == string(domain.KindBill) && domain.BillStatus(row.BillStatus).Terminal() {
			return store.ErrInvalidTransition
		}
		row.Items = items
		row.TotalAmount = total
		if notes != nil {
			row.Notes = *notes
		}
		row.UpdatedAt = at.UTC()
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	rec := row.toDomain()
	return &rec, nil
}

func (s *Store) SetBillStatus(ctx context.Context, localID string, status domain.BillStatus, at time.Time) (*domain.TransactionRecord, error) {
	if !status.Terminal() {
		return nil, store.ErrInvalidTransition
	}

	var row recordRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("local_id = ?", localID).Take(&row).Error; err != nil {
			return err
		}
		if row.Kind != string(domain.KindBill) {
			return fmt.Errorf("%w: %s is not a bill", store.ErrInvalidRecord, localID)
		}
		if domain.BillStatus(row.BillStatus) != domain.BillActive {
			return store.ErrInvalidTransition
		}

		if row.TableNumber != "" {
			var others int64
			err := tx.Model(&recordRow{}).
				Where("kind = ? AND table_number = ? AND bill_status = ? AND local_id <> ?",
					domain.KindBill, row.TableNumber, domain.BillActive, localID).
				Count(&others).Error
			if err != nil {
				return err
			}
			if others == 0 {
				err := tx.Model(&tableSlotRow{}).
					Where("table_number = ?", row.TableNumber).
					Update("status", domain.TableAvailable).Error
				if err != nil {
					return err
				}
			}
		}

		row.BillStatus = string(status)
		row.UpdatedAt = at.UTC()
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	rec := row.toDomain()
	return &rec, nil
}

func (s *Store) MarkSynced(ctx context.Context, localID string, serverID string, serverNumber string, at time.Time) error {
	updates := map[string]any{
		"sync_status": string(domain.SyncSynced),
		"server_id":   serverID,
		"error":       "",
		"updated_at":  at.UTC(),
	}
	if serverNumber != "" {
		updates["server_number"] = serverNumber
	}

	res := s.db.WithContext(ctx).Model(&recordRow{}).Where("local_id = ?", localID).Updates(updates)
	if res.Error != nil {
		return mapErr(ctx, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, localID string, message string, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := tx.Select("local_id", "sync_status").Where("local_id = ?", localID).Take(&row).Error; err != nil {
			return err
		}
		if row.SyncStatus == string(domain.SyncSynced) {
			return store.ErrInvalidTransition
		}
		return tx.Model(&recordRow{}).Where("local_id = ?", localID).Updates(map[string]any{
			"sync_status": string(domain.SyncFailed),
			"error":       message,
			"updated_at":  at.UTC(),
		}).Error
	})
	return mapErr(ctx, err)
}

func (s *Store) CountBySyncStatus(ctx context.Context) (domain.SyncCounts, error) {
	var rows []struct {
		SyncStatus string
		N          int
	}
	err := s.db.WithContext(ctx).Model(&recordRow{}).
		Select("sync_status, COUNT(*) AS n").
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return domain.SyncCounts{}, mapErr(ctx, err)
	}

	var counts domain.SyncCounts
	for _, row := range rows {
		switch domain.SyncStatus(row.SyncStatus) {
		case domain.SyncPending:
			counts.Pending = row.N
		case domain.SyncSynced:
			counts.Synced = row.N
		case domain.SyncFailed:
			counts.Failed = row.N
		}
	}
	return counts, nil
}

func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, store.ErrInvalidRecord
	}
	var value int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO sequences (seq_key, value) VALUES (?, 1)
			ON CONFLICT (seq_key) DO UPDATE SET value = value + 1
		`, key).Error
		if err != nil {
			return err
		}
		return tx.Model(&sequenceRow{}).Select("value").Where("seq_key = ?", key).Scan(&value).Error
	})
	if err != nil {
		return 0, mapErr(ctx, err)
	}
	return value, nil
}

func (s *Store) ListTableSlots(ctx context.Context) ([]domain.TableSlot, error) {
	var rows []tableSlotRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, mapErr(ctx, err)
	}
	return slotsFromRows(rows), nil
}

func slotsFromRows(rows []tableSlotRow) []domain.TableSlot {
	slots := make([]domain.TableSlot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, row.toDomain())
	}
	store.SortSlots(slots)
	return slots
}

func (s *Store) GetTableSlot(ctx context.Context, tableNumber string) (*domain.TableSlot, error) {
	var row tableSlotRow
	err := s.db.WithContext(ctx).Where("table_number = ?", tableNumber).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrTableNotFound
	}
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	slot := row.toDomain()
	return &slot, nil
}

func (s *Store) RegenerateTableSlots(ctx context.Context, count int, prefix string) (domain.RegenerateResult, error) {
	var plan store.RegenerationPlan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []tableSlotRow
		if err := tx.Find(&rows).Error; err != nil {
			return err
		}
		var err error
		plan, err = store.PlanRegeneration(slotsFromRows(rows), count, prefix, uuid.NewString)
		if err != nil {
			return err
		}

		if len(plan.Remove) > 0 {
			ids := make([]string, 0, len(plan.Remove))
			for _, slot := range plan.Remove {
				ids = append(ids, slot.ID)
			}
			if err := tx.Where("id IN ? AND status = ?", ids, domain.TableAvailable).Delete(&tableSlotRow{}).Error; err != nil {
				return err
			}
		}
		if len(plan.Create) > 0 {
			created := make([]tableSlotRow, 0, len(plan.Create))
			for _, slot := range plan.Create {
				created = append(created, tableSlotRow{ID: slot.ID, TableNumber: slot.TableNumber, Status: string(slot.Status)})
			}
			if err := tx.CreateInBatches(created, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.RegenerateResult{}, mapErr(ctx, err)
	}
	return plan.Result(), nil
}

func (s *Store) CreateBillTag(ctx context.Context, tag domain.BillTag) (*domain.BillTag, error) {
	tag.TagName = strings.TrimSpace(tag.TagName)
	if tag.ID == "" || tag.TagName == "" {
		return nil, store.ErrInvalidRecord
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&billTagRow{}).Where("tag_name = ? COLLATE NOCASE", tag.TagName).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return store.ErrDuplicateTag
		}
		return tx.Create(&billTagRow{
			ID:        tag.ID,
			TagName:   tag.TagName,
			TagColor:  tag.TagColor,
			CreatedAt: tag.CreatedAt.UTC(),
		}).Error
	})
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	return &tag, nil
}

func (s *Store) ListBillTags(ctx context.Context) ([]domain.BillTag, error) {
	var rows []billTagRow
	if err := s.db.WithContext(ctx).Order("tag_name COLLATE NOCASE ASC").Find(&rows).Error; err != nil {
		return nil, mapErr(ctx, err)
	}
	tags := make([]domain.BillTag, 0, len(rows))
	for _, row := range rows {
		tags = append(tags, domain.BillTag{ID: row.ID, TagName: row.TagName, TagColor: row.TagColor, CreatedAt: row.CreatedAt.UTC()})
	}
	return tags, nil
}

func (s *Store) DeleteBillTag(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&billTagRow{})
	if res.Error != nil {
		return mapErr(ctx, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReplaceCatalog clears and refills every mirror table in one transaction.
// Any insert failure rolls the whole replacement back.
func (s *Store) ReplaceCatalog(ctx context.Context, snapshot domain.CatalogSnapshot) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&menuRow{}, &itemRow{}, &categoryRow{}, &storeLocationRow{}, &userRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear mirror: %w", err)
			}
		}

		users := make([]userRow, 0, len(snapshot.Users))
		for _, u := range snapshot.Users {
			users = append(users, userRow{ID: u.ID, UserName: u.UserName, Email: u.Email, Phone: u.Phone, Role: u.Role})
		}
		categories := make([]categoryRow, 0, len(snapshot.Categories))
		for _, c := range snapshot.Categories {
			categories = append(categories, categoryRow{ID: c.ID, Name: c.Name})
		}
		items := make([]itemRow, 0, len(snapshot.Items))
		for _, it := range snapshot.Items {
			items = append(items, itemRow{
				ID:          it.ID,
				Name:        it.Name,
				CategoryID:  it.CategoryID,
				Price:       it.Price,
				Cost:        it.Cost,
				TracksStock: it.TracksStock,
				Stock:       it.Stock,
			})
		}
		locations := make([]storeLocationRow, 0, len(snapshot.StoreLocations))
		for _, l := range snapshot.StoreLocations {
			locations = append(locations, storeLocationRow{
				ID:                 l.ID,
				BusinessLocationID: l.BusinessLocationID,
				Name:               l.Name,
				ReceiptPrefix:      l.ReceiptPrefix,
				BillPrefix:         l.BillPrefix,
			})
		}
		menu := make([]menuRow, 0, len(snapshot.Menu))
		for _, m := range snapshot.Menu {
			menu = append(menu, menuRow{ID: m.ID, ItemID: m.ItemID, CategoryID: m.CategoryID, Position: m.Position, Available: m.Available})
		}

		if err := insertAll(tx, users); err != nil {
			return fmt.Errorf("insert users: %w", err)
		}
		if err := insertAll(tx, categories); err != nil {
			return fmt.Errorf("insert categories: %w", err)
		}
		if err := insertAll(tx, items); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		if err := insertAll(tx, locations); err != nil {
			return fmt.Errorf("insert store locations: %w", err)
		}
		if err := insertAll(tx, menu); err != nil {
			return fmt.Errorf("insert menu: %w", err)
		}
		return nil
	})
	return mapErr(ctx, err)
}

func insertAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, 200).Error
}

func (s *Store) LoadCatalog(ctx context.Context) (domain.CatalogSnapshot, error) {
	db := s.db.WithContext(ctx)
	var (
		users      []userRow
		categories []categoryRow
		items      []itemRow
		locations  []storeLocationRow
		menu       []menuRow
	)
	if err := db.Order("user_name").Find(&users).Error; err != nil {
		return domain.CatalogSnapshot{}, mapErr(ctx, err)
	}
	if err := db.Order("name").Find(&categories).Error; err != nil {
		return domain.CatalogSnapshot{}, mapErr(ctx, err)
	}
	if err := db.Order("name").Find(&items).Error; err != nil {
		return domain.CatalogSnapshot{}, mapErr(ctx, err)
	}
	if err := db.Order("name").Find(&locations).Error; err != nil {
		return domain.CatalogSnapshot{}, mapErr(ctx, err)
	}
	if err := db.Order("position").Find(&menu).Error; err != nil {
		return domain.CatalogSnapshot{}, mapErr(ctx, err)
	}

	var snap domain.CatalogSnapshot
	for _, u := range users {
		snap.Users = append(snap.Users, domain.CatalogUser{ID: u.ID, UserName: u.UserName, Email: u.Email, Phone: u.Phone, Role: u.Role})
	}
	for _, c := range categories {
		snap.Categories = append(snap.Categories, domain.Category{ID: c.ID, Name: c.Name})
	}
	for _, it := range items {
		snap.Items = append(snap.Items, domain.CatalogItem{
			ID:          it.ID,
			Name:        it.Name,
			CategoryID:  it.CategoryID,
			Price:       it.Price,
			Cost:        it.Cost,
			TracksStock: it.TracksStock,
			Stock:       it.Stock,
		})
	}
	for _, l := range locations {
		snap.StoreLocations = append(snap.StoreLocations, storeLocationFromRow(l))
	}
	for _, m := range menu {
		snap.Menu = append(snap.Menu, domain.MenuEntry{ID: m.ID, ItemID: m.ItemID, CategoryID: m.CategoryID, Position: m.Position, Available: m.Available})
	}
	return snap, nil
}

func storeLocationFromRow(l storeLocationRow) domain.StoreLocation {
	return domain.StoreLocation{
		ID:                 l.ID,
		BusinessLocationID: l.BusinessLocationID,
		Name:               l.Name,
		ReceiptPrefix:      l.ReceiptPrefix,
		BillPrefix:         l.BillPrefix,
	}
}

func (s *Store) GetStoreLocation(ctx context.Context, id string) (*domain.StoreLocation, error) {
	var row storeLocationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, mapErr(ctx, err)
	}
	loc := storeLocationFromRow(row)
	return &loc, nil
}
