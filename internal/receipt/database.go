package receipt

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	// ErrNotFound is returned when a receipt does not exist.
	ErrNotFound = errors.New("receipt not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// by the review workflow (only pending receipts may be decided).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DB defines the interface for database operations
type DB interface {
	// ResolveMerchant normalizes the merchant fields and returns the row ID
	// for the (name, city, state) identity, creating the row if needed
	ResolveMerchant(name, address, city, state, zipCode, phone string) (int64, error)

	// CategoryID looks up a category by name; ok is false when unknown
	CategoryID(name string) (id int64, ok bool, err error)

	// ListCategories returns all active categories
	ListCategories() ([]*Category, error)

	// SaveReceipt inserts a receipt and its items in one transaction
	SaveReceipt(rec *Receipt, items []*Item) (int64, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id int64) (*Receipt, error)

	// GetItems returns a receipt's items in display order
	GetItems(receiptID int64) ([]*Item, error)

	// ListReceipts returns receipts, optionally filtered by status ("" = all)
	ListReceipts(status Status) ([]*Receipt, error)

	// UpdateReceipt replaces a pending receipt's header fields and items
	UpdateReceipt(rec *Receipt, items []*Item) error

	// SetStatus moves a pending receipt to approved or rejected
	SetStatus(id int64, status Status) error

	// SetStoredPath records a receipt file's new storage location
	SetStoredPath(id int64, path string) error

	// DeleteReceipt removes a receipt; its items cascade
	DeleteReceipt(id int64) error

	// ReceiptSummaries returns v_receipt_summary
	ReceiptSummaries() ([]*ReceiptSummary, error)

	// SpendingByCategory returns v_spending_by_category
	SpendingByCategory() ([]*CategorySpend, error)

	// MerchantSummaries returns v_merchant_summary
	MerchantSummaries() ([]*MerchantSummary, error)

	// Close closes the database connection
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	description TEXT,
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS merchants (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL DEFAULT '',
	zip_code   TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(name, city, state)
);

CREATE TABLE IF NOT EXISTS receipts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	merchant_id    INTEGER NOT NULL REFERENCES merchants(id),
	filename       TEXT NOT NULL,
	stored_path    TEXT,
	receipt_date   TEXT,
	receipt_time   TEXT,
	subtotal       REAL NOT NULL DEFAULT 0,
	tax_amount     REAL NOT NULL DEFAULT 0,
	total_amount   REAL NOT NULL,
	payment_method TEXT,
	currency       TEXT NOT NULL DEFAULT 'USD',
	status         TEXT NOT NULL DEFAULT 'pending'
	               CHECK (status IN ('pending', 'approved', 'rejected')),
	confidence     TEXT CHECK (confidence IN ('high', 'medium', 'low')),
	notes          TEXT,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS receipt_items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	receipt_id    INTEGER NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
	category_id   INTEGER REFERENCES categories(id),
	receipt_name  TEXT NOT NULL,
	standard_name TEXT NOT NULL,
	price         REAL NOT NULL,
	quantity      REAL NOT NULL DEFAULT 1,
	line_total    REAL GENERATED ALWAYS AS (round(price * quantity, 2)) STORED,
	line_order    INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_receipts_merchant_id ON receipts(merchant_id);
CREATE INDEX IF NOT EXISTS idx_receipts_date ON receipts(receipt_date);
CREATE INDEX IF NOT EXISTS idx_receipt_items_receipt_id ON receipt_items(receipt_id);
CREATE INDEX IF NOT EXISTS idx_receipt_items_category_id ON receipt_items(category_id);
CREATE INDEX IF NOT EXISTS idx_receipt_items_standard_name ON receipt_items(standard_name);
CREATE INDEX IF NOT EXISTS idx_merchants_location ON merchants(city, state);

CREATE TRIGGER IF NOT EXISTS trg_merchants_updated_at
AFTER UPDATE ON merchants FOR EACH ROW
BEGIN
	UPDATE merchants SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_receipts_updated_at
AFTER UPDATE ON receipts FOR EACH ROW
BEGIN
	UPDATE receipts SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_receipt_items_updated_at
AFTER UPDATE ON receipt_items FOR EACH ROW
BEGIN
	UPDATE receipt_items SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_categories_updated_at
AFTER UPDATE ON categories FOR EACH ROW
BEGIN
	UPDATE categories SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE VIEW IF NOT EXISTS v_receipt_summary AS
SELECT
	r.id,
	r.filename,
	m.name AS merchant_name,
	m.city,
	m.state,
	r.receipt_date,
	r.total_amount,
	r.status,
	r.confidence,
	COUNT(ri.id) AS item_count,
	r.created_at
FROM receipts r
JOIN merchants m ON r.merchant_id = m.id
LEFT JOIN receipt_items ri ON r.id = ri.receipt_id
GROUP BY r.id;

CREATE VIEW IF NOT EXISTS v_spending_by_category AS
SELECT
	c.name AS category_name,
	COUNT(ri.id) AS item_count,
	SUM(ri.line_total) AS total_spent,
	AVG(ri.price) AS avg_item_price
FROM categories c
LEFT JOIN receipt_items ri ON c.id = ri.category_id
	AND ri.receipt_id IN (SELECT id FROM receipts WHERE status = 'approved')
GROUP BY c.id
ORDER BY total_spent DESC NULLS LAST;

CREATE VIEW IF NOT EXISTS v_merchant_summary AS
SELECT
	m.name,
	m.city,
	m.state,
	COUNT(r.id) AS receipt_count,
	COALESCE(SUM(r.total_amount), 0) AS total_spent,
	COALESCE(AVG(r.total_amount), 0) AS avg_per_receipt,
	MIN(r.receipt_date) AS first_visit,
	MAX(r.receipt_date) AS last_visit
FROM merchants m
LEFT JOIN receipts r ON m.id = r.merchant_id AND r.status = 'approved'
GROUP BY m.id
ORDER BY total_spent DESC;
`

// seedCategories is the fixed classification taxonomy, inserted once.
var seedCategories = []struct {
	name        string
	description string
}{
	{"Electronics", "Electronic devices and accessories"},
	{"Groceries", "Food items and household consumables"},
	{"Clothing", "Apparel and fashion items"},
	{"Home & Garden", "Home improvement and gardening supplies"},
	{"Personal Care", "Health and beauty products"},
	{"Dining", "Restaurant meals and takeout"},
	{"Transportation", "Fuel, parking, and transit expenses"},
	{"Entertainment", "Movies, games, and recreational activities"},
	{"Health & Beauty", "Medical and cosmetic products"},
	{"Office Supplies", "Business and office materials"},
	{"Other", "Miscellaneous items"},
}

// SQLDB implements the DB interface using SQLite
type SQLDB struct {
	db *sqlx.DB
}

// NewSQLDB opens (or creates) the SQLite database at path and ensures the
// schema, views, triggers and seed categories exist.
func NewSQLDB(path string) (*SQLDB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	for _, c := range seedCategories {
		if _, err := db.Exec(`INSERT OR IGNORE INTO categories (name, description) VALUES (?, ?)`, c.name, c.description); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding categories: %w", err)
		}
	}

	return &SQLDB{db: db}, nil
}

// ResolveMerchant normalizes the merchant fields and returns the existing row
// for the (name, city, state) identity, or creates one. Repeated ingestion of
// receipts from the same store never creates duplicate rows: a lost race on
// the unique constraint falls back to the winning row.
func (s *SQLDB) ResolveMerchant(name, address, city, state, zipCode, phone string) (int64, error) {
	name = ProperCase(name)
	if name == "" {
		name = "Unknown"
	}
	city = ProperCase(city)
	state = CleanState(state)
	zipCode = CleanZip(zipCode)
	phone = CleanPhone(phone)
	address = strings.TrimSpace(address)

	var id int64
	err := s.db.Get(&id, `SELECT id FROM merchants WHERE name = ? AND city = ? AND state = ?`, name, city, state)
	if err == nil {
		// Backfill location details the earlier receipts didn't have. The row
		// is only touched when a blank column gains a value, so updated_at
		// tracks real changes.
		_, err = s.db.Exec(`
			UPDATE merchants SET
				address  = CASE WHEN address  = '' THEN ? ELSE address  END,
				zip_code = CASE WHEN zip_code = '' THEN ? ELSE zip_code END,
				phone    = CASE WHEN phone    = '' THEN ? ELSE phone    END
			WHERE id = ?
				AND ((address = '' AND ? <> '') OR (zip_code = '' AND ? <> '') OR (phone = '' AND ? <> ''))`,
			address, zipCode, phone, id, address, zipCode, phone)
		if err != nil {
			return 0, fmt.Errorf("updating merchant %d: %w", id, err)
		}
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up merchant: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO merchants (name, address, city, state, zip_code, phone)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, address, city, state, zipCode, phone)
	if err != nil {
		// A duplicate means the row exists; use it.
		if isUniqueViolation(err) {
			var existing int64
			if getErr := s.db.Get(&existing, `SELECT id FROM merchants WHERE name = ? AND city = ? AND state = ?`, name, city, state); getErr == nil {
				return existing, nil
			}
		}
		return 0, fmt.Errorf("inserting merchant: %w", err)
	}

	return res.LastInsertId()
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CategoryID looks up an active category by name
func (s *SQLDB) CategoryID(name string) (int64, bool, error) {
	var id int64
	err := s.db.Get(&id, `SELECT id FROM categories WHERE name = ? AND is_active = 1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up category %q: %w", name, err)
	}
	return id, true, nil
}

// ListCategories returns all active categories
func (s *SQLDB) ListCategories() ([]*Category, error) {
	categories := make([]*Category, 0)
	if err := s.db.Select(&categories, `SELECT * FROM categories WHERE is_active = 1 ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}

// SaveReceipt inserts a receipt and its items in one transaction so a partial
// receipt never appears.
func (s *SQLDB) SaveReceipt(rec *Receipt, items []*Item) (int64, error) {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.Currency == "" {
		rec.Currency = "USD"
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO receipts (
			merchant_id, filename, stored_path, receipt_date, receipt_time,
			subtotal, tax_amount, total_amount, payment_method, currency,
			status, confidence, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MerchantID, rec.Filename, rec.StoredPath, rec.ReceiptDate, rec.ReceiptTime,
		rec.Subtotal, rec.TaxAmount, rec.TotalAmount, rec.PaymentMethod, rec.Currency,
		rec.Status, rec.Confidence, rec.Notes)
	if err != nil {
		return 0, fmt.Errorf("inserting receipt: %w", err)
	}

	receiptID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading receipt id: %w", err)
	}

	if err := insertItems(tx, receiptID, items); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing receipt: %w", err)
	}

	rec.ID = receiptID
	return receiptID, nil
}

// insertItems writes the line items for a receipt. line_total is a generated
// column and is never supplied.
func insertItems(tx *sqlx.Tx, receiptID int64, items []*Item) error {
	for i, item := range items {
		order := item.LineOrder
		if order == 0 {
			order = i + 1
		}
		_, err := tx.Exec(`
			INSERT INTO receipt_items (
				receipt_id, category_id, receipt_name, standard_name,
				price, quantity, line_order
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			receiptID, item.CategoryID, item.ReceiptName, item.StandardName,
			item.Price, item.Quantity, order)
		if err != nil {
			return fmt.Errorf("inserting item %d: %w", i+1, err)
		}
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLDB) GetReceipt(id int64) (*Receipt, error) {
	var rec Receipt
	err := s.db.Get(&rec, `SELECT * FROM receipts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt %d: %w", id, err)
	}
	return &rec, nil
}

// GetItems returns a receipt's items in display order
func (s *SQLDB) GetItems(receiptID int64) ([]*Item, error) {
	items := make([]*Item, 0)
	err := s.db.Select(&items, `SELECT * FROM receipt_items WHERE receipt_id = ? ORDER BY line_order`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting items for receipt %d: %w", receiptID, err)
	}
	return items, nil
}

// ListReceipts returns receipts, newest first, optionally filtered by status
func (s *SQLDB) ListReceipts(status Status) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	var err error
	if status == "" {
		err = s.db.Select(&receipts, `SELECT * FROM receipts ORDER BY created_at DESC, id DESC`)
	} else {
		err = s.db.Select(&receipts, `SELECT * FROM receipts WHERE status = ? ORDER BY created_at DESC, id DESC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// UpdateReceipt replaces a pending receipt's header fields and items in one
// transaction. Approved and rejected receipts are final.
func (s *SQLDB) UpdateReceipt(rec *Receipt, items []*Item) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE receipts SET
			merchant_id = ?, receipt_date = ?, receipt_time = ?,
			subtotal = ?, tax_amount = ?, total_amount = ?,
			payment_method = ?, currency = ?, notes = ?
		WHERE id = ? AND status = 'pending'`,
		rec.MerchantID, rec.ReceiptDate, rec.ReceiptTime,
		rec.Subtotal, rec.TaxAmount, rec.TotalAmount,
		rec.PaymentMethod, rec.Currency, rec.Notes, rec.ID)
	if err != nil {
		return fmt.Errorf("updating receipt %d: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating receipt %d: %w", rec.ID, err)
	}
	if n == 0 {
		if _, getErr := s.GetReceipt(rec.ID); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(`DELETE FROM receipt_items WHERE receipt_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("replacing items for receipt %d: %w", rec.ID, err)
	}
	if err := insertItems(tx, rec.ID, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing receipt update: %w", err)
	}
	return nil
}

// SetStatus moves a pending receipt to approved or rejected. Any other
// transition is rejected.
func (s *SQLDB) SetStatus(id int64, status Status) error {
	if status != StatusApproved && status != StatusRejected {
		return ErrInvalidTransition
	}

	res, err := s.db.Exec(`UPDATE receipts SET status = ? WHERE id = ? AND status = 'pending'`, status, id)
	if err != nil {
		return fmt.Errorf("setting status for receipt %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting status for receipt %d: %w", id, err)
	}
	if n == 0 {
		if _, getErr := s.GetReceipt(id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

// SetStoredPath records a receipt file's new storage location
func (s *SQLDB) SetStoredPath(id int64, path string) error {
	res, err := s.db.Exec(`UPDATE receipts SET stored_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("updating stored path for receipt %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReceipt removes a receipt; its items cascade with it
func (s *SQLDB) DeleteReceipt(id int64) error {
	res, err := s.db.Exec(`DELETE FROM receipts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting receipt %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReceiptSummaries returns one row per receipt with merchant identity,
// location, item count and total.
func (s *SQLDB) ReceiptSummaries() ([]*ReceiptSummary, error) {
	rows := make([]*ReceiptSummary, 0)
	if err := s.db.Select(&rows, `SELECT * FROM v_receipt_summary ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("querying receipt summary: %w", err)
	}
	return rows, nil
}

// SpendingByCategory returns spend totals grouped by category, highest first
func (s *SQLDB) SpendingByCategory() ([]*CategorySpend, error) {
	rows := make([]*CategorySpend, 0)
	if err := s.db.Select(&rows, `SELECT * FROM v_spending_by_category`); err != nil {
		return nil, fmt.Errorf("querying category spending: %w", err)
	}
	return rows, nil
}

// MerchantSummaries returns per-merchant spend aggregates, highest first
func (s *SQLDB) MerchantSummaries() ([]*MerchantSummary, error) {
	rows := make([]*MerchantSummary, 0)
	if err := s.db.Select(&rows, `SELECT * FROM v_merchant_summary`); err != nil {
		return nil, fmt.Errorf("querying merchant summary: %w", err)
	}
	return rows, nil
}

// Close closes the database connection
func (s *SQLDB) Close() error {
	return s.db.Close()
}
