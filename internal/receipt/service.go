package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kazimtuluk/expense-analysis-with-ai/internal/scanning"
)

// scanAttempts bounds retries against the OCR and structuring backends.
// Both are remote calls that fail transiently; more than one retry just
// burns quota on genuinely unreadable images.
const scanAttempts = 2

// Service runs the receipt pipeline: store the image, recognize its text,
// structure it, and hold the record pending until a reviewer decides.
type Service struct {
	db         DB
	recognizer scanning.TextRecognizer
	structurer scanning.Structurer
	storage    Storage
	archiver   Archiver
}

// NewService creates a new Service
func NewService(db DB, recognizer scanning.TextRecognizer, structurer scanning.Structurer, storage Storage, archiver Archiver) *Service {
	return &Service{
		db:         db,
		recognizer: recognizer,
		structurer: structurer,
		storage:    storage,
		archiver:   archiver,
	}
}

var (
	filenameCharsRe  = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpacesRe = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated filenames: special characters
// removed, whitespace collapsed, length capped.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = filenameCharsRe.ReplaceAllString(base, "")
	base = filenameSpacesRe.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessReceipt runs one image through the pipeline and returns the pending
// receipt. The original file is kept either way: in the new bucket on
// success, in the failed bucket when recognition or structuring gives up.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	cleanFilename := sanitizeFilename(filename)

	savedPath, err := s.storage.Save(BucketNew, cleanFilename, data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	rec, items, err := s.extract(ctx, cleanFilename, data, contentType)
	if err != nil {
		slog.Error("receipt pipeline failed",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if failedPath, moveErr := s.storage.Move(savedPath, BucketFailed); moveErr != nil {
			slog.Warn("failed to quarantine file", "path", savedPath, "error", moveErr)
		} else {
			slog.Info("file moved to failed bucket", "path", failedPath)
		}
		return nil, err
	}

	rec.StoredPath = nullString(savedPath)

	// A record that fails validation is still worth a reviewer's time, so
	// it is held pending with the reason attached instead of being dropped.
	if err := ValidateRecord(rec, items); err != nil {
		slog.Warn("receipt held for review", "filename", filename, "error", err)
		rec.Notes = nullString("needs review: " + err.Error())
		rec.Confidence = nullString(string(scanning.ConfidenceLow))
	}

	if _, err := s.db.SaveReceipt(rec, items); err != nil {
		if _, moveErr := s.storage.Move(savedPath, BucketFailed); moveErr != nil {
			slog.Warn("failed to quarantine file", "path", savedPath, "error", moveErr)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("receipt ingested",
		"receipt_id", rec.ID,
		"filename", cleanFilename,
		"total", rec.TotalAmount,
		"items", len(items),
		"confidence", rec.Confidence.String,
	)
	return rec, nil
}

// extract runs OCR and structuring with bounded retries and reconciles the
// result into database rows.
func (s *Service) extract(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, []*Item, error) {
	var text string
	err := withRetry(ctx, func() error {
		var err error
		text, err = s.recognizer.RecognizeText(ctx, data, contentType)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("recognizing text: %w", err)
	}

	var ext *scanning.Extraction
	err = withRetry(ctx, func() error {
		var err error
		ext, err = s.structurer.StructureReceipt(ctx, text)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("structuring receipt: %w", err)
	}

	rec, items, err := Reconcile(s.db, ext, filename)
	if err != nil {
		return nil, nil, err
	}
	return rec, items, nil
}

// withRetry runs fn up to scanAttempts times, backing off briefly between
// attempts and respecting context cancellation.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= scanAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < scanAttempts {
			slog.Warn("retrying after error", "attempt", attempt, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// Approve marks a pending receipt approved, moves its file to the approved
// bucket, and archives a durable copy.
func (s *Service) Approve(ctx context.Context, id int64) (*Receipt, error) {
	if err := s.db.SetStatus(id, StatusApproved); err != nil {
		return nil, err
	}

	rec, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, err
	}

	if rec.StoredPath.Valid {
		if newPath, err := s.storage.Move(rec.StoredPath.String, BucketApproved); err != nil {
			slog.Warn("failed to move approved file", "receipt_id", id, "error", err)
		} else if err := s.db.SetStoredPath(id, newPath); err != nil {
			return nil, err
		} else {
			rec.StoredPath = nullString(newPath)
		}

		// Archive failures don't undo the approval; the local copy remains.
		if data, err := s.storage.Get(rec.StoredPath.String); err != nil {
			slog.Warn("failed to read file for archiving", "receipt_id", id, "error", err)
		} else if location, err := s.archiver.Archive(ctx, rec.Filename, data); err != nil {
			slog.Warn("failed to archive receipt", "receipt_id", id, "error", err)
		} else if location != "" {
			slog.Info("receipt archived", "receipt_id", id, "location", location)
		}
	}

	slog.Info("receipt approved", "receipt_id", id)
	return rec, nil
}

// Reject marks a pending receipt rejected and moves its file to the rejected
// bucket. The record is kept for audit; the reporting views leave it out.
func (s *Service) Reject(id int64) (*Receipt, error) {
	if err := s.db.SetStatus(id, StatusRejected); err != nil {
		return nil, err
	}

	rec, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, err
	}

	if rec.StoredPath.Valid {
		if newPath, err := s.storage.Move(rec.StoredPath.String, BucketRejected); err != nil {
			slog.Warn("failed to move rejected file", "receipt_id", id, "error", err)
		} else if err := s.db.SetStoredPath(id, newPath); err != nil {
			return nil, err
		} else {
			rec.StoredPath = nullString(newPath)
		}
	}

	slog.Info("receipt rejected", "receipt_id", id)
	return rec, nil
}

// Edit replaces a pending receipt's fields and items after validating them
func (s *Service) Edit(rec *Receipt, items []*Item) error {
	if err := ValidateRecord(rec, items); err != nil {
		return err
	}
	if err := s.db.UpdateReceipt(rec, items); err != nil {
		return err
	}
	slog.Info("receipt edited", "receipt_id", rec.ID)
	return nil
}

// GetReceipt retrieves a receipt with its items
func (s *Service) GetReceipt(id int64) (*Receipt, []*Item, error) {
	rec, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.db.GetItems(id)
	if err != nil {
		return nil, nil, err
	}
	return rec, items, nil
}

// ListReceipts returns receipts, optionally filtered by status
func (s *Service) ListReceipts(status Status) ([]*Receipt, error) {
	return s.db.ListReceipts(status)
}

// ListCategories returns the classification taxonomy
func (s *Service) ListCategories() ([]*Category, error) {
	return s.db.ListCategories()
}

// DeleteReceipt removes a receipt along with its stored file
func (s *Service) DeleteReceipt(id int64) error {
	rec, err := s.db.GetReceipt(id)
	if err != nil {
		return err
	}

	if rec.StoredPath.Valid {
		if err := s.storage.Delete(rec.StoredPath.String); err != nil {
			slog.Warn("failed to delete file", "path", rec.StoredPath.String, "error", err)
		}
	}

	return s.db.DeleteReceipt(id)
}

// GetReceiptFile retrieves the stored image for a receipt
func (s *Service) GetReceiptFile(id int64) ([]byte, string, error) {
	rec, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", err
	}
	if !rec.StoredPath.Valid {
		return nil, "", fmt.Errorf("receipt %d has no stored file", id)
	}

	data, err := s.storage.Get(rec.StoredPath.String)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, rec.Filename, nil
}

// ReceiptSummaries returns the per-receipt reporting view
func (s *Service) ReceiptSummaries() ([]*ReceiptSummary, error) {
	return s.db.ReceiptSummaries()
}

// SpendingByCategory returns the per-category reporting view
func (s *Service) SpendingByCategory() ([]*CategorySpend, error) {
	return s.db.SpendingByCategory()
}

// MerchantSummaries returns the per-merchant reporting view
func (s *Service) MerchantSummaries() ([]*MerchantSummary, error) {
	return s.db.MerchantSummaries()
}
