package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

// decisionError maps workflow errors to HTTP statuses
func decisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		corsError(w, "Receipt not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		corsError(w, "Receipt has already been decided", http.StatusConflict)
	default:
		slog.Error("error handling request", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// receiptID parses the {id} path value
func receiptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		corsError(w, "Invalid receipt ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// handleIndex serves the HTML review interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// receiptWithItems is the detail and list representation of a receipt
type receiptWithItems struct {
	*Receipt
	Items []*Item `json:"items"`
}

// handleListReceipts returns receipts, optionally filtered by ?status=
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		corsError(w, "Invalid status filter", http.StatusBadRequest)
		return
	}

	receipts, err := s.service.ListReceipts(status)
	if err != nil {
		slog.Error("error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt accepts a multipart upload and runs the pipeline
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	// 50MB to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("error parsing multipart form", "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "File is too large. Maximum size is 50MB."})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("error reading file data", "error", err, "filename", header.Filename)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file"})
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)

	rec, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("error processing receipt", "filename", header.Filename, "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// uploadContentType resolves the content type of an upload, falling back to
// the filename extension. HEIC/HEIF types are preserved so the conversion
// step can detect them.
func uploadContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleGetReceipt returns a single receipt with its items
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}

	rec, items, err := s.service.GetReceipt(id)
	if err != nil {
		decisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptWithItems{Receipt: rec, Items: items})
}

// handleApproveReceipt approves a pending receipt
func (s *Server) handleApproveReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}

	rec, err := s.service.Approve(r.Context(), id)
	if err != nil {
		decisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleRejectReceipt rejects a pending receipt
func (s *Server) handleRejectReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}

	rec, err := s.service.Reject(id)
	if err != nil {
		decisionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// editRequest is the body of a PUT correction. Items replace the receipt's
// items wholesale.
type editRequest struct {
	ReceiptDate   string  `json:"receipt_date"`
	ReceiptTime   string  `json:"receipt_time"`
	Subtotal      float64 `json:"subtotal"`
	TaxAmount     float64 `json:"tax_amount"`
	TotalAmount   float64 `json:"total_amount"`
	PaymentMethod string  `json:"payment_method"`
	Currency      string  `json:"currency"`
	Notes         string  `json:"notes"`
	Items         []struct {
		CategoryID   int64   `json:"category_id"`
		ReceiptName  string  `json:"receipt_name"`
		StandardName string  `json:"standard_name"`
		Price        float64 `json:"price"`
		Quantity     float64 `json:"quantity"`
	} `json:"items"`
}

// categoryRef treats a zero category ID as unset
func categoryRef(id int64) NullInt64 {
	if id == 0 {
		return NullInt64{}
	}
	return nullInt64(id)
}

// handleEditReceipt applies reviewer corrections to a pending receipt
func (s *Server) handleEditReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, _, err := s.service.GetReceipt(id)
	if err != nil {
		decisionError(w, err)
		return
	}

	rec.ReceiptDate = nullString(req.ReceiptDate)
	rec.ReceiptTime = nullString(req.ReceiptTime)
	rec.Subtotal = req.Subtotal
	rec.TaxAmount = req.TaxAmount
	rec.TotalAmount = req.TotalAmount
	rec.PaymentMethod = nullString(req.PaymentMethod)
	if req.Currency != "" {
		rec.Currency = req.Currency
	}
	rec.Notes = nullString(req.Notes)

	items := make([]*Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, &Item{
			CategoryID:   categoryRef(it.CategoryID),
			ReceiptName:  it.ReceiptName,
			StandardName: ProperCase(it.StandardName),
			Price:        it.Price,
			Quantity:     it.Quantity,
		})
	}

	if err := s.service.Edit(rec, items); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			decisionError(w, err)
			return
		}
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	updated, items, err := s.service.GetReceipt(id)
	if err != nil {
		decisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptWithItems{Receipt: updated, Items: items})
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteReceipt(id); err != nil {
		decisionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the stored image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}

	data, filename, err := s.service.GetReceiptFile(id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListCategories returns the classification taxonomy
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories()
	if err != nil {
		slog.Error("error listing categories", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleReceiptSummaries returns the per-receipt report
func (s *Server) handleReceiptSummaries(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.ReceiptSummaries()
	if err != nil {
		slog.Error("error querying receipt summary", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleSpendingByCategory returns the per-category report
func (s *Server) handleSpendingByCategory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.SpendingByCategory()
	if err != nil {
		slog.Error("error querying category spending", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleMerchantSummaries returns the per-merchant report
func (s *Server) handleMerchantSummaries(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.MerchantSummaries()
	if err != nil {
		slog.Error("error querying merchant summary", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
