package receipt

import (
	"database/sql"
	"encoding/json"
	"time"
)

// NullString is a sql.NullString that serializes as a plain JSON string or
// null instead of the {String, Valid} pair.
type NullString struct {
	sql.NullString
}

func (n NullString) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.String)
}

func (n *NullString) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*n = NullString{}
		return nil
	}
	n.String, n.Valid = *s, true
	return nil
}

// NullInt64 is a sql.NullInt64 that serializes as a plain JSON number or null.
type NullInt64 struct {
	sql.NullInt64
}

func (n NullInt64) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Int64)
}

func (n *NullInt64) UnmarshalJSON(data []byte) error {
	var v *int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*n = NullInt64{}
		return nil
	}
	n.Int64, n.Valid = *v, true
	return nil
}

// NullFloat64 is a sql.NullFloat64 that serializes as a plain JSON number or
// null.
type NullFloat64 struct {
	sql.NullFloat64
}

func (n NullFloat64) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

func (n *NullFloat64) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*n = NullFloat64{}
		return nil
	}
	n.Float64, n.Valid = *v, true
	return nil
}

// Status is the review workflow state of a receipt. Receipts are inserted
// pending and only move on explicit reviewer action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known workflow state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Merchant is a physical store, deduplicated on (name, city, state).
type Merchant struct {
	ID        int64      `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Address   NullString `db:"address" json:"address,omitempty"`
	City      NullString `db:"city" json:"city,omitempty"`
	State     NullString `db:"state" json:"state,omitempty"`
	ZipCode   NullString `db:"zip_code" json:"zip_code,omitempty"`
	Phone     NullString `db:"phone" json:"phone,omitempty"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Category is a pre-seeded classification for line items.
type Category struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description NullString `db:"description" json:"description,omitempty"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Receipt is one ingested receipt with provenance and workflow state.
type Receipt struct {
	ID            int64      `db:"id" json:"id"`
	MerchantID    int64      `db:"merchant_id" json:"merchant_id"`
	Filename      string     `db:"filename" json:"filename"`
	StoredPath    NullString `db:"stored_path" json:"stored_path,omitempty"`
	ReceiptDate   NullString `db:"receipt_date" json:"receipt_date,omitempty"` // YYYY-MM-DD
	ReceiptTime   NullString `db:"receipt_time" json:"receipt_time,omitempty"` // HH:MM:SS
	Subtotal      float64    `db:"subtotal" json:"subtotal"`
	TaxAmount     float64    `db:"tax_amount" json:"tax_amount"`
	TotalAmount   float64    `db:"total_amount" json:"total_amount"`
	PaymentMethod NullString `db:"payment_method" json:"payment_method,omitempty"`
	Currency      string     `db:"currency" json:"currency"`
	Status        Status     `db:"status" json:"status"`
	Confidence    NullString `db:"confidence" json:"confidence,omitempty"` // high/medium/low
	Notes         NullString `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Item is one receipt line. ReceiptName preserves the verbatim receipt text
// for audit; StandardName is the normalized name used for aggregation.
// LineTotal is a database generated column (price * quantity): it is never
// written by the application, only read back.
type Item struct {
	ID           int64     `db:"id" json:"id"`
	ReceiptID    int64     `db:"receipt_id" json:"receipt_id"`
	CategoryID   NullInt64 `db:"category_id" json:"category_id,omitempty"`
	ReceiptName  string    `db:"receipt_name" json:"receipt_name"`
	StandardName string    `db:"standard_name" json:"standard_name"`
	Price        float64   `db:"price" json:"price"`
	Quantity     float64   `db:"quantity" json:"quantity"`
	LineTotal    float64   `db:"line_total" json:"line_total"`
	LineOrder    int       `db:"line_order" json:"line_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ReceiptSummary is one row of v_receipt_summary.
type ReceiptSummary struct {
	ID           int64      `db:"id" json:"id"`
	Filename     string     `db:"filename" json:"filename"`
	MerchantName string     `db:"merchant_name" json:"merchant_name"`
	City         NullString `db:"city" json:"city,omitempty"`
	State        NullString `db:"state" json:"state,omitempty"`
	ReceiptDate  NullString `db:"receipt_date" json:"receipt_date,omitempty"`
	TotalAmount  float64    `db:"total_amount" json:"total_amount"`
	Status       Status     `db:"status" json:"status"`
	Confidence   NullString `db:"confidence" json:"confidence,omitempty"`
	ItemCount    int        `db:"item_count" json:"item_count"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CategorySpend is one row of v_spending_by_category.
type CategorySpend struct {
	CategoryName string      `db:"category_name" json:"category_name"`
	ItemCount    int         `db:"item_count" json:"item_count"`
	TotalSpent   NullFloat64 `db:"total_spent" json:"total_spent"`
	AvgItemPrice NullFloat64 `db:"avg_item_price" json:"avg_item_price"`
}

// MerchantSummary is one row of v_merchant_summary.
type MerchantSummary struct {
	Name          string     `db:"name" json:"name"`
	City          NullString `db:"city" json:"city,omitempty"`
	State         NullString `db:"state" json:"state,omitempty"`
	ReceiptCount  int        `db:"receipt_count" json:"receipt_count"`
	TotalSpent    float64    `db:"total_spent" json:"total_spent"`
	AvgPerReceipt float64    `db:"avg_per_receipt" json:"avg_per_receipt"`
	FirstVisit    NullString `db:"first_visit" json:"first_visit,omitempty"`
	LastVisit     NullString `db:"last_visit" json:"last_visit,omitempty"`
}
