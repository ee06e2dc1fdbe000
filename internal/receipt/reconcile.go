package receipt

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/kazimtuluk/expense-analysis-with-ai/internal/scanning"
)

// FallbackCategory catches items the structurer could not classify.
const FallbackCategory = "Other"

// Reconcile maps a structured extraction onto database rows. The merchant is
// resolved through the deduplicating (name, city, state) lookup, item names
// are normalized for aggregation, and unknown categories fall back to Other.
// The returned receipt is pending; nothing is written except the merchant row.
func Reconcile(db DB, ext *scanning.Extraction, filename string) (*Receipt, []*Item, error) {
	merchantID, err := db.ResolveMerchant(
		ext.Merchant.Name, ext.Merchant.Address, ext.Merchant.City,
		ext.Merchant.State, ext.Merchant.ZipCode, ext.Merchant.Phone)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving merchant: %w", err)
	}

	rec := &Receipt{
		MerchantID:    merchantID,
		Filename:      filename,
		ReceiptDate:   nullString(ext.Transaction.Date),
		ReceiptTime:   nullString(ext.Transaction.Time),
		Subtotal:      ext.Transaction.Subtotal,
		TaxAmount:     ext.Transaction.TaxAmount,
		TotalAmount:   ext.Transaction.TotalAmount,
		PaymentMethod: nullString(strings.TrimSpace(ext.Transaction.PaymentMethod)),
		Currency:      "USD",
		Status:        StatusPending,
		Confidence:    nullString(string(ext.Confidence)),
	}

	items := make([]*Item, 0, len(ext.Items))
	for i, it := range ext.Items {
		categoryID, err := resolveCategory(db, it.Category)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, &Item{
			CategoryID:   categoryID,
			ReceiptName:  strings.TrimSpace(it.ReceiptName),
			StandardName: ProperCase(it.StandardName),
			Price:        it.Price,
			Quantity:     it.Quantity,
			LineOrder:    i + 1,
		})
	}

	return rec, items, nil
}

// resolveCategory maps a category name to its row ID, falling back to the
// Other category for names outside the taxonomy.
func resolveCategory(db DB, name string) (NullInt64, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		id, ok, err := db.CategoryID(name)
		if err != nil {
			return NullInt64{}, fmt.Errorf("resolving category: %w", err)
		}
		if ok {
			return nullInt64(id), nil
		}
	}

	id, ok, err := db.CategoryID(FallbackCategory)
	if err != nil {
		return NullInt64{}, fmt.Errorf("resolving fallback category: %w", err)
	}
	if !ok {
		return NullInt64{}, nil
	}
	return nullInt64(id), nil
}

func nullString(s string) NullString {
	return NullString{sql.NullString{String: s, Valid: s != ""}}
}

func nullInt64(v int64) NullInt64 {
	return NullInt64{sql.NullInt64{Int64: v, Valid: true}}
}
