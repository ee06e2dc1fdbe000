package scanning

import "context"

// Merchant holds the merchant block of a structured extraction.
type Merchant struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Phone   string `json:"phone"`
}

// Transaction holds the money and date fields of a structured extraction.
type Transaction struct {
	Date          string  `json:"date"` // ISO 8601 after cleaning, empty if not found
	Time          string  `json:"time"` // HH:MM:SS after cleaning, empty if not found
	Subtotal      float64 `json:"subtotal"`
	TaxAmount     float64 `json:"tax_amount"`
	TotalAmount   float64 `json:"total_amount"`
	PaymentMethod string  `json:"payment_method"`
}

// Item is a single line item with dual naming: the verbatim receipt text
// and a simplified standard name used for aggregation.
type Item struct {
	ReceiptName  string  `json:"receipt_name"`
	StandardName string  `json:"standard_name"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Category     string  `json:"category"`
}

// Confidence is a coarse quality tier for an extraction.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Extraction is a complete structured receipt produced by a Structurer.
type Extraction struct {
	Merchant    Merchant    `json:"merchant"`
	Transaction Transaction `json:"transaction"`
	Items       []Item      `json:"items"`

	Confidence Confidence `json:"-"`
}

// TextRecognizer extracts raw text from a receipt image.
type TextRecognizer interface {
	// RecognizeText runs OCR on image data and returns the full extracted text
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases the recognizer's resources
	Close() error
}

// Structurer turns raw OCR text into a structured extraction.
type Structurer interface {
	// StructureReceipt sends receipt text to a model and returns the structured record
	StructureReceipt(ctx context.Context, receiptText string) (*Extraction, error)
	// Close releases the structurer's resources
	Close() error
}
