// Package postgres is the shared-terminal store: several registers in one
// outlet pointing at a single PostgreSQL database through pgx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// mapErr keeps rule rejections intact and reports a blown deadline as a
// storage timeout. A transaction whose context expires is rolled back by
// database/sql, so nothing commits after the deadline.
func mapErr(ctx context.Context, err error) error {
	if err == nil || store.IsLogical(err) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrStorageTimeout, err)
	}
	return store.MapContextErr(err)
}

const recordColumns = `
	local_id, kind, business_location_id, store_location_id, user_ref, customer,
	notes, items, total_amount, number, prefix, sync_status, server_id,
	server_number, error, sale, table_number, tag, bill_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.TransactionRecord, error) {
	var (
		rec                               domain.TransactionRecord
		kind, syncStatus, billStatus      string
		tableNumber                       string
		userJSON, customerJSON, itemsJSON []byte
		saleJSON, tagJSON                 []byte
	)
	err := row.Scan(
		&rec.LocalID, &kind, &rec.BusinessLocationID, &rec.StoreLocationID, &userJSON, &customerJSON,
		&rec.Notes, &itemsJSON, &rec.TotalAmount, &rec.Number, &rec.Prefix, &syncStatus, &rec.ServerID,
		&rec.ServerNumber, &rec.Error, &saleJSON, &tableNumber, &tagJSON, &billStatus, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = domain.RecordKind(kind)
	rec.SyncStatus = domain.SyncStatus(syncStatus)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	if err := json.Unmarshal(userJSON, &rec.User); err != nil {
		return nil, fmt.Errorf("decode user_ref: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &rec.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if len(customerJSON) > 0 {
		if err := json.Unmarshal(customerJSON, &rec.Customer); err != nil {
			return nil, fmt.Errorf("decode customer: %w", err)
		}
	}

	switch rec.Kind {
	case domain.KindSale:
		rec.Sale = &domain.SaleDetails{}
		if len(saleJSON) > 0 {
			if err := json.Unmarshal(saleJSON, rec.Sale); err != nil {
				return nil, fmt.Errorf("decode sale: %w", err)
			}
		}
	case domain.KindBill:
		rec.Bill = &domain.BillDetails{TableNumber: tableNumber, Status: domain.BillStatus(billStatus)}
		if len(tagJSON) > 0 {
			if err := json.Unmarshal(tagJSON, &rec.Bill.Tag); err != nil {
				return nil, fmt.Errorf("decode tag: %w", err)
			}
		}
	}
	return &rec, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if err := store.ValidateNewRecord(rec); err != nil {
		return nil, err
	}

	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return nil, err
	}
	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return nil, err
	}
	customerJSON, err := jsonOrNull(rec.Customer)
	if err != nil {
		return nil, err
	}
	saleJSON, err := jsonOrNull(rec.Sale)
	if err != nil {
		return nil, err
	}
	var (
		tableNumber, billStatus string
		tagJSON                 any
	)
	if rec.Bill != nil {
		tableNumber = rec.Bill.TableNumber
		billStatus = string(rec.Bill.Status)
		if tagJSON, err = jsonOrNull(rec.Bill.Tag); err != nil {
			return nil, err
		}
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if tableNumber != "" {
		if err := occupySlot(ctx, pgTx, tableNumber); err != nil {
			return nil, mapErr(ctx, err)
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, rec.LocalID, rec.Kind, rec.BusinessLocationID, rec.StoreLocationID, string(userJSON), customerJSON,
		rec.Notes, string(itemsJSON), rec.TotalAmount, rec.Number, rec.Prefix, rec.SyncStatus, rec.ServerID,
		rec.ServerNumber, rec.Error, saleJSON, tableNumber, tagJSON, billStatus, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate local id %s", store.ErrInvalidRecord, rec.LocalID)
		}
		return nil, mapErr(ctx, err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapErr(ctx, err)
	}

	created := rec
	created.CreatedAt = rec.CreatedAt.UTC()
	created.UpdatedAt = rec.UpdatedAt.UTC()
	return &created, nil
}

// occupySlot flips a slot to occupied only while it is still available.
// A concurrent writer on the same row waits for the lock and then sees the
// row no longer matches.
func occupySlot(ctx context.Context, pgTx *sql.Tx, table string) error {
	res, err := pgTx.ExecContext(ctx, `
		UPDATE table_slots SET status = $2
		WHERE table_number = $1 AND status = $3
	`, table, domain.TableOccupied, domain.TableAvailable)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM table_slots WHERE table_number = $1)`, table).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrTableNotFound
	}
	return store.ErrTableOccupied
}

func (s *Store) GetRecord(ctx context.Context, localID string) (*domain.TransactionRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE local_id = $1`, localID))
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.TransactionRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		add("sync_status = ANY($%d)", statuses)
	}
	if filter.BusinessLocationID != "" {
		add("business_location_id = $%d", filter.BusinessLocationID)
	}
	if filter.StoreLocationID != "" {
		add("store_location_id = $%d", filter.StoreLocationID)
	}

	query := `SELECT ` + recordColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, local_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer rows.Close()

	out := make([]domain.TransactionRecord, 0, 32)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mapErr(ctx, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return out, nil
}

func (s *Store) lockRecord(ctx context.Context, pgTx *sql.Tx, localID string) (*domain.TransactionRecord, error) {
	return scanRecord(pgTx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE local_id = $1 FOR UPDATE`, localID))
}

func (s *Store) UpdateRecordContent(ctx context.Context, localID string, items []domain.LineItem, total decimal.Decimal, notes *string, at time.Time) (*domain.TransactionRecord, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidRecord
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	rec, err := s.lockRecord(ctx, pgTx, localID)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	if rec.Kind == domain.KindBill && rec.Bill.Status.Terminal() {
		return nil, store.ErrInvalidTransition
	}

	rec.Items = items
	rec.TotalAmount = total
	if notes != nil {
		rec.Notes = *notes
	}
	rec.UpdatedAt = at.UTC()

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET items = $2, total_amount = $3, notes = $4, updated_at = $5
		WHERE local_id = $1
	`, localID, string(itemsJSON), total, rec.Notes, rec.UpdatedAt)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return rec, nil
}

func (s *Store) SetBillStatus(ctx context.Context, localID string, status domain.BillStatus, at time.Time) (*domain.TransactionRecord, error) {
	if !status.Terminal() {
		return nil, store.ErrInvalidTransition
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	rec, err := s.lockRecord(ctx, pgTx, localID)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	if rec.Kind != domain.KindBill {
		return nil, fmt.Errorf("%w: %s is not a bill", store.ErrInvalidRecord, localID)
	}
	if rec.Bill.Status != domain.BillActive {
		return nil, store.ErrInvalidTransition
	}

	if table := rec.Bill.TableNumber; table != "" {
		var others int
		err := pgTx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM transactions
			WHERE kind = $1 AND table_number = $2 AND bill_status = $3 AND local_id <> $4
		`, domain.KindBill, table, domain.BillActive, localID).Scan(&others)
		if err != nil {
			return nil, mapErr(ctx, err)
		}
		if others == 0 {
			if _, err := pgTx.ExecContext(ctx, `UPDATE table_slots SET status = $2 WHERE table_number = $1`, table, domain.TableAvailable); err != nil {
				return nil, mapErr(ctx, err)
			}
		}
	}

	rec.Bill.Status = status
	rec.UpdatedAt = at.UTC()
	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions SET bill_status = $2, updated_at = $3 WHERE local_id = $1
	`, localID, status, rec.UpdatedAt)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return rec, nil
}

func (s *Store) MarkSynced(ctx context.Context, localID string, serverID string, serverNumber string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET sync_status = $2, server_id = $3,
			server_number = CASE WHEN $4 = '' THEN server_number ELSE $4 END,
			error = '', updated_at = $5
		WHERE local_id = $1
	`, localID, domain.SyncSynced, serverID, serverNumber, at.UTC())
	if err != nil {
		return mapErr(ctx, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(ctx, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkFailed never downgrades a record that already reached the server.
func (s *Store) MarkFailed(ctx context.Context, localID string, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET sync_status = $2, error = $3, updated_at = $4
		WHERE local_id = $1 AND sync_status <> $5
	`, localID, domain.SyncFailed, message, at.UTC(), domain.SyncSynced)
	if err != nil {
		return mapErr(ctx, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(ctx, err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE local_id = $1)`, localID).Scan(&exists); err != nil {
		return mapErr(ctx, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInvalidTransition
}

func (s *Store) CountBySyncStatus(ctx context.Context) (domain.SyncCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM transactions GROUP BY sync_status`)
	if err != nil {
		return domain.SyncCounts{}, mapErr(ctx, err)
	}
	defer rows.Close()

	var counts domain.SyncCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.SyncCounts{}, mapErr(ctx, err)
		}
		switch domain.SyncStatus(status) {
		case domain.SyncPending:
			counts.Pending = n
		case domain.SyncSynced:
			counts.Synced = n
		case domain.SyncFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.SyncCounts{}, mapErr(ctx, err)
	}
	return counts, nil
}

func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, store.ErrInvalidRecord
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (seq_key, value) VALUES ($1, 1)
		ON CONFLICT (seq_key) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, mapErr(ctx, err)
	}
	return value, nil
}

func (s *Store) ListTableSlots(ctx context.Context) ([]domain.TableSlot, error) {
	return listSlots(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listSlots(ctx context.Context, q querier) ([]domain.TableSlot, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, table_number, status FROM table_slots`)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer rows.Close()

	slots := make([]domain.TableSlot, 0, 16)
	for rows.Next() {
		var slot domain.TableSlot
		var status string
		if err := rows.Scan(&slot.ID, &slot.TableNumber, &status); err != nil {
			return nil, mapErr(ctx, err)
		}
		slot.Status = domain.TableStatus(status)
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(ctx, err)
	}
	store.SortSlots(slots)
	return slots, nil
}

func (s *Store) GetTableSlot(ctx context.Context, tableNumber string) (*domain.TableSlot, error) {
	var slot domain.TableSlot
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, table_number, status FROM table_slots WHERE table_number = $1
	`, tableNumber).Scan(&slot.ID, &slot.TableNumber, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTableNotFound
	}
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	slot.Status = domain.TableStatus(status)
	return &slot, nil
}

// RegenerateTableSlots locks the slot table against concurrent bill writes
// for the length of the resize.
func (s *Store) RegenerateTableSlots(ctx context.Context, count int, prefix string) (domain.RegenerateResult, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RegenerateResult{}, mapErr(ctx, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `LOCK TABLE table_slots IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return domain.RegenerateResult{}, mapErr(ctx, err)
	}
	current, err := listSlots(ctx, pgTx)
	if err != nil {
		return domain.RegenerateResult{}, err
	}
	plan, err := store.PlanRegeneration(current, count, prefix, uuid.NewString)
	if err != nil {
		return domain.RegenerateResult{}, err
	}

	if len(plan.Remove) > 0 {
		ids := make([]string, 0, len(plan.Remove))
		for _, slot := range plan.Remove {
			ids = append(ids, slot.ID)
		}
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM table_slots WHERE id = ANY($1) AND status = $2`, ids, domain.TableAvailable); err != nil {
			return domain.RegenerateResult{}, mapErr(ctx, err)
		}
	}
	for _, slot := range plan.Create {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO table_slots (id, table_number, status) VALUES ($1, $2, $3)
		`, slot.ID, slot.TableNumber, slot.Status)
		if err != nil {
			return domain.RegenerateResult{}, mapErr(ctx, err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return domain.RegenerateResult{}, mapErr(ctx, err)
	}
	return plan.Result(), nil
}

func (s *Store) CreateBillTag(ctx context.Context, tag domain.BillTag) (*domain.BillTag, error) {
	tag.TagName = strings.TrimSpace(tag.TagName)
	if tag.ID == "" || tag.TagName == "" {
		return nil, store.ErrInvalidRecord
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `LOCK TABLE bill_tags IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, mapErr(ctx, err)
	}
	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bill_tags WHERE lower(tag_name) = lower($1))`, tag.TagName).Scan(&exists); err != nil {
		return nil, mapErr(ctx, err)
	}
	if exists {
		return nil, store.ErrDuplicateTag
	}

	tag.CreatedAt = tag.CreatedAt.UTC()
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bill_tags (id, tag_name, tag_color, created_at) VALUES ($1, $2, $3, $4)
	`, tag.ID, tag.TagName, tag.TagColor, tag.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateTag
		}
		return nil, mapErr(ctx, err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return &tag, nil
}

func (s *Store) ListBillTags(ctx context.Context) ([]domain.BillTag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag_name, tag_color, created_at FROM bill_tags ORDER BY lower(tag_name) ASC
	`)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer rows.Close()

	tags := make([]domain.BillTag, 0, 16)
	for rows.Next() {
		var tag domain.BillTag
		if err := rows.Scan(&tag.ID, &tag.TagName, &tag.TagColor, &tag.CreatedAt); err != nil {
			return nil, mapErr(ctx, err)
		}
		tag.CreatedAt = tag.CreatedAt.UTC()
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return tags, nil
}

func (s *Store) DeleteBillTag(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bill_tags WHERE id = $1`, id)
	if err != nil {
		return mapErr(ctx, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapErr(ctx, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReplaceCatalog swaps every mirror table inside one transaction; a failed
// insert leaves the previous mirror untouched.
func (s *Store) ReplaceCatalog(ctx context.Context, snapshot domain.CatalogSnapshot) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(ctx, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, table := range []string{"menu", "items", "categories", "store_locations", "users"} {
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return mapErr(ctx, fmt.Errorf("clear mirror: %w", err))
		}
	}

	for _, u := range snapshot.Users {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO users (id, user_name, email, phone, role) VALUES ($1,$2,$3,$4,$5)
		`, u.ID, u.UserName, u.Email, u.Phone, u.Role); err != nil {
			return mapErr(ctx, fmt.Errorf("insert users: %w", err))
		}
	}
	for _, c := range snapshot.Categories {
		if _, err := pgTx.ExecContext(ctx, `INSERT INTO categories (id, name) VALUES ($1,$2)`, c.ID, c.Name); err != nil {
			return mapErr(ctx, fmt.Errorf("insert categories: %w", err))
		}
	}
	for _, it := range snapshot.Items {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO items (id, name, category_id, price, cost, tracks_stock, stock)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, it.ID, it.Name, it.CategoryID, it.Price, it.Cost, it.TracksStock, it.Stock); err != nil {
			return mapErr(ctx, fmt.Errorf("insert items: %w", err))
		}
	}
	for _, l := range snapshot.StoreLocations {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO store_locations (id, business_location_id, name, receipt_prefix, bill_prefix)
			VALUES ($1,$2,$3,$4,$5)
		`, l.ID, l.BusinessLocationID, l.Name, l.ReceiptPrefix, l.BillPrefix); err != nil {
			return mapErr(ctx, fmt.Errorf("insert store locations: %w", err))
		}
	}
	for _, m := range snapshot.Menu {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO menu (id, item_id, category_id, position, available) VALUES ($1,$2,$3,$4,$5)
		`, m.ID, m.ItemID, m.CategoryID, m.Position, m.Available); err != nil {
			return mapErr(ctx, fmt.Errorf("insert menu: %w", err))
		}
	}

	return mapErr(ctx, pgTx.Commit())
}

func (s *Store) LoadCatalog(ctx context.Context) (domain.CatalogSnapshot, error) {
	var snap domain.CatalogSnapshot

	err := queryEach(ctx, s.db, `SELECT id, user_name, email, phone, role FROM users ORDER BY user_name`, func(rows *sql.Rows) error {
		var u domain.CatalogUser
		if err := rows.Scan(&u.ID, &u.UserName, &u.Email, &u.Phone, &u.Role); err != nil {
			return err
		}
		snap.Users = append(snap.Users, u)
		return nil
	})
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	err = queryEach(ctx, s.db, `SELECT id, name FROM categories ORDER BY name`, func(rows *sql.Rows) error {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return err
		}
		snap.Categories = append(snap.Categories, c)
		return nil
	})
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	err = queryEach(ctx, s.db, `
		SELECT id, name, category_id, price, cost, tracks_stock, stock FROM items ORDER BY name
	`, func(rows *sql.Rows) error {
		var it domain.CatalogItem
		if err := rows.Scan(&it.ID, &it.Name, &it.CategoryID, &it.Price, &it.Cost, &it.TracksStock, &it.Stock); err != nil {
			return err
		}
		snap.Items = append(snap.Items, it)
		return nil
	})
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	err = queryEach(ctx, s.db, `
		SELECT id, business_location_id, name, receipt_prefix, bill_prefix FROM store_locations ORDER BY name
	`, func(rows *sql.Rows) error {
		var l domain.StoreLocation
		if err := rows.Scan(&l.ID, &l.BusinessLocationID, &l.Name, &l.ReceiptPrefix, &l.BillPrefix); err != nil {
			return err
		}
		snap.StoreLocations = append(snap.StoreLocations, l)
		return nil
	})
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	err = queryEach(ctx, s.db, `
		SELECT id, item_id, category_id, position, available FROM menu ORDER BY position
	`, func(rows *sql.Rows) error {
		var m domain.MenuEntry
		if err := rows.Scan(&m.ID, &m.ItemID, &m.CategoryID, &m.Position, &m.Available); err != nil {
			return err
		}
		snap.Menu = append(snap.Menu, m)
		return nil
	})
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	return snap, nil
}

func queryEach(ctx context.Context, q querier, query string, scan func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return mapErr(ctx, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return mapErr(ctx, err)
		}
	}
	return mapErr(ctx, rows.Err())
}

func (s *Store) GetStoreLocation(ctx context.Context, id string) (*domain.StoreLocation, error) {
	var l domain.StoreLocation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_location_id, name, receipt_prefix, bill_prefix FROM store_locations WHERE id = $1
	`, id).Scan(&l.ID, &l.BusinessLocationID, &l.Name, &l.ReceiptPrefix, &l.BillPrefix)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// jsonOrNull encodes v for a nullable JSONB column.
func jsonOrNull[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
