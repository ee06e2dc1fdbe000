package receipt

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// receiptRules is the validation view of a reconciled record. The models use
// sql.Null types, so the checked fields are copied here for tag validation.
type receiptRules struct {
	MerchantID  int64       `validate:"required"`
	Filename    string      `validate:"required"`
	TotalAmount float64     `validate:"required,gt=0"`
	Subtotal    float64     `validate:"gte=0"`
	TaxAmount   float64     `validate:"gte=0"`
	Items       []itemRules `validate:"dive"`
}

type itemRules struct {
	StandardName string  `validate:"required"`
	Price        float64 `validate:"gte=0"`
	Quantity     float64 `validate:"gt=0"`
}

// ValidateRecord checks a reconciled receipt before it is written. A non-nil
// error means the numbers don't hold up; the caller records the reason and
// holds the receipt for manual review rather than dropping it.
func ValidateRecord(rec *Receipt, items []*Item) error {
	rules := receiptRules{
		MerchantID:  rec.MerchantID,
		Filename:    rec.Filename,
		TotalAmount: rec.TotalAmount,
		Subtotal:    rec.Subtotal,
		TaxAmount:   rec.TaxAmount,
	}
	for _, item := range items {
		rules.Items = append(rules.Items, itemRules{
			StandardName: item.StandardName,
			Price:        item.Price,
			Quantity:     item.Quantity,
		})
	}

	if err := validate.Struct(rules); err != nil {
		return fmt.Errorf("validating receipt: %w", err)
	}
	return nil
}
