package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// parseExtractionJSON parses the JSON response from an LLM into an Extraction,
// cleans the fields and scores confidence.
func parseExtractionJSON(text string) (*Extraction, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Keep only the outermost JSON object in case the model added prose
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var extraction Extraction
	if err := json.Unmarshal([]byte(text), &extraction); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	cleanExtraction(&extraction)
	extraction.Confidence = scoreConfidence(&extraction)

	return &extraction, nil
}

// cleanExtraction normalizes dates, times, items and totals in place.
func cleanExtraction(e *Extraction) {
	e.Merchant.Name = strings.TrimSpace(e.Merchant.Name)
	if e.Merchant.Name == "" || strings.EqualFold(e.Merchant.Name, "unknown") {
		e.Merchant.Name = "Unknown"
	}
	e.Merchant.Address = strings.TrimSpace(e.Merchant.Address)
	e.Merchant.City = strings.TrimSpace(e.Merchant.City)
	e.Merchant.State = strings.TrimSpace(e.Merchant.State)
	e.Merchant.ZipCode = strings.TrimSpace(e.Merchant.ZipCode)
	e.Merchant.Phone = strings.TrimSpace(e.Merchant.Phone)

	e.Transaction.Date = parseReceiptDate(e.Transaction.Date)
	e.Transaction.Time = parseReceiptTime(e.Transaction.Time)
	e.Transaction.PaymentMethod = strings.TrimSpace(e.Transaction.PaymentMethod)

	e.Items = cleanItems(e.Items)
	reconcileTotals(e)
}

// cleanItems drops unusable line items and fills in the dual names when the
// model only provided one of them.
func cleanItems(items []Item) []Item {
	cleaned := make([]Item, 0, len(items))
	for _, item := range items {
		item.ReceiptName = strings.TrimSpace(item.ReceiptName)
		item.StandardName = strings.TrimSpace(item.StandardName)
		item.Category = strings.TrimSpace(item.Category)

		switch {
		case item.ReceiptName == "" && item.StandardName == "":
			continue
		case item.StandardName == "":
			item.StandardName = item.ReceiptName
		case item.ReceiptName == "":
			item.ReceiptName = item.StandardName
		}

		if item.Price <= 0 {
			continue
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}

		cleaned = append(cleaned, item)
	}
	return cleaned
}

// reconcileTotals back-fills missing totals from the line items so a receipt
// with an unreadable total line is still usable for review.
func reconcileTotals(e *Extraction) {
	if len(e.Items) == 0 {
		return
	}

	var itemsTotal float64
	for _, item := range e.Items {
		itemsTotal += item.Price * item.Quantity
	}

	if e.Transaction.TotalAmount == 0 {
		e.Transaction.TotalAmount = itemsTotal
	}
	if e.Transaction.Subtotal == 0 {
		e.Transaction.Subtotal = e.Transaction.TotalAmount - e.Transaction.TaxAmount
	}
}

// scoreConfidence assigns a coarse tier from what the extraction found.
func scoreConfidence(e *Extraction) Confidence {
	score := 0

	if e.Merchant.Name != "Unknown" {
		score++
	}
	if e.Merchant.City != "" || e.Merchant.State != "" {
		score++
	}
	if e.Transaction.TotalAmount > 0 {
		score++
	}
	if len(e.Items) > 0 {
		score += 2
	}
	if e.Transaction.Date != "" {
		score++
	}
	for _, item := range e.Items {
		if item.StandardName != "" {
			score++
			break
		}
	}

	switch {
	case score >= 5:
		return ConfidenceHigh
	case score >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

var (
	datePrefixRe = regexp.MustCompile(`(?i)^(receipt date:?|date:?)\s*`)
	timePrefixRe = regexp.MustCompile(`(?i)^(receipt time:?|time:?)\s*`)

	slashDateRe  = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2,4})`)
	isoDateRe    = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	altSepDateRe = regexp.MustCompile(`(\d{1,2})[-.](\d{1,2})[-.](\d{4})`)
	monthDateRe  = regexp.MustCompile(`([A-Za-z]+)\s+(\d{1,2}),?\s+(\d{4})`)

	clockRe = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)
	ampmRe  = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(AM|PM)`)
)

// parseReceiptDate normalizes the many date formats that show up on receipts
// to YYYY-MM-DD. Returns "" when no usable date is found.
func parseReceiptDate(dateStr string) string {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" || strings.EqualFold(dateStr, "unknown") || strings.EqualFold(dateStr, "null") {
		return ""
	}
	dateStr = datePrefixRe.ReplaceAllString(dateStr, "")

	// YYYY-MM-DD
	if m := isoDateRe.FindStringSubmatch(dateStr); m != nil {
		if d, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])); err == nil {
			return d.Format("2006-01-02")
		}
	}

	// MM/DD/YYYY or MM/DD/YY, with a DD/MM fallback for European receipts
	if m := slashDateRe.FindStringSubmatch(dateStr); m != nil {
		year := m[3]
		if len(year) == 2 {
			if year < "50" {
				year = "20" + year
			} else {
				year = "19" + year
			}
		}
		if d, err := time.Parse("1/2/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], year)); err == nil {
			return d.Format("2006-01-02")
		}
		if d, err := time.Parse("2/1/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], year)); err == nil {
			return d.Format("2006-01-02")
		}
	}

	// DD-MM-YYYY or DD.MM.YYYY
	if m := altSepDateRe.FindStringSubmatch(dateStr); m != nil {
		if d, err := time.Parse("2-1-2006", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])); err == nil {
			return d.Format("2006-01-02")
		}
	}

	// Month DD, YYYY
	if m := monthDateRe.FindStringSubmatch(dateStr); m != nil {
		for _, layout := range []string{"January 2 2006", "Jan 2 2006"} {
			if d, err := time.Parse(layout, fmt.Sprintf("%s %s %s", m[1], m[2], m[3])); err == nil {
				return d.Format("2006-01-02")
			}
		}
	}

	return ""
}

// parseReceiptTime normalizes a time string to HH:MM:SS. Returns "" when no
// usable time is found.
func parseReceiptTime(timeStr string) string {
	timeStr = strings.TrimSpace(timeStr)
	if timeStr == "" || strings.EqualFold(timeStr, "unknown") || strings.EqualFold(timeStr, "null") {
		return ""
	}
	timeStr = timePrefixRe.ReplaceAllString(timeStr, "")

	if m := ampmRe.FindStringSubmatch(timeStr); m != nil {
		if t, err := time.Parse("3:04 PM", fmt.Sprintf("%s:%s %s", m[1], m[2], strings.ToUpper(m[3]))); err == nil {
			return t.Format("15:04:05")
		}
	}

	if m := clockRe.FindStringSubmatch(timeStr); m != nil {
		seconds := m[3]
		if seconds == "" {
			seconds = "00"
		}
		if t, err := time.Parse("15:04:05", fmt.Sprintf("%s:%s:%s", m[1], m[2], seconds)); err == nil {
			return t.Format("15:04:05")
		}
	}

	return ""
}
