package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrExtraction), errors.Is(err, ErrNormalization):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// contentTypeFor guesses a MIME type from the extension when the client sent none
func contentTypeFor(filename, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" {
		return declared
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
	default:
		return "application/octet-stream"
	}
}

// handleScanReceipt runs the ingestion pipeline on an uploaded image
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = fmt.Sprintf("File is too large. Maximum size is %dMB.", s.cfg.MaxUploadBytes>>20)
		}
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if s.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PipelineTimeout)
		defer cancel()
	}

	expense, err := s.service.IngestReceipt(ctx, userIDFrom(r.Context()), Upload{
		Filename:    header.Filename,
		ContentType: contentTypeFor(header.Filename, header.Header.Get("Content-Type")),
		Data:        data,
	})
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, expense)
}

// handleListExpenses returns the authenticated user's expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if expenses == nil {
		expenses = []*Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

type updateExpenseRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Category     Category        `json:"category"`
	BusinessName string          `json:"business_name"`
}

// handleUpdateExpense edits amount, category and business name
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Expense ID required", http.StatusBadRequest)
		return
	}

	var req updateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	expense := &Expense{
		ID:           id,
		UserID:       userIDFrom(r.Context()),
		Amount:       req.Amount,
		Category:     req.Category,
		BusinessName: strings.TrimSpace(req.BusinessName),
	}
	if err := s.service.UpdateExpense(r.Context(), expense); err != nil {
		slog.Error("Error updating expense", "id", id, "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, expense)
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Expense ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteExpense(r.Context(), userIDFrom(r.Context()), id); err != nil {
		slog.Error("Error deleting expense", "id", id, "error", err)
		writeError(w, "Error deleting expense", statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExportExpenses streams an xlsx workbook of the user's expenses
func (s *Server) handleExportExpenses(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("expenses-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := s.service.ExportExpenses(r.Context(), userIDFrom(r.Context()), w); err != nil {
		slog.Error("Error exporting expenses", "error", err)
		w.Header().Del("Content-Disposition")
		writeError(w, "Error exporting expenses", http.StatusInternalServerError)
		return
	}
}
