package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

type ImportHandler struct {
	runner    *services.ImportRunner
	maxUpload int64
	log       zerolog.Logger
}

func NewImportHandler(runner *services.ImportRunner, maxUpload int64, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{runner: runner, maxUpload: maxUpload, log: log}
}

// Upload handles POST /imports. The multipart form carries "file" plus the
// optional "default_account_id" and "confirmed" fields. The job runs in the
// background; poll GET /imports/{id} for progress.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			services.SendErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge, nil)
			return
		}
		services.SendErrorResponse(w, "Invalid multipart form", http.StatusBadRequest, nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		services.SendErrorResponse(w, "file is required", http.StatusBadRequest, nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read file", http.StatusBadRequest, nil)
		return
	}

	opts := services.ImportOptions{Actor: userID}
	if raw := r.FormValue("default_account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			services.SendLedgerError(w, models.NewLedgerError(models.CodeAccountNotFound, services.FieldAccountID, "default_account_id is not valid"))
			return
		}
		opts.DefaultAccountID = id
	}
	if raw := r.FormValue("confirmed"); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			services.SendErrorResponse(w, "confirmed must be true or false", http.StatusBadRequest, nil)
			return
		}
		opts.Confirmed = confirmed
	}

	job, err := h.runner.Start(r.Context(), data, header.Filename, opts)
	if err != nil {
		log := logger.FromContext(r.Context(), h.log)
		log.Info().Err(err).Str("file", header.Filename).Msg("import upload rejected")
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/imports/"+job.ID)
	services.SendJSON(w, http.StatusAccepted, job)
}

// Status handles GET /imports/{id}
func (h *ImportHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Status(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrImportJobNotFound) {
		services.SendErrorResponse(w, "Import job not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context(), h.log)
		log.Error().Err(err).Msg("failed to load import job")
		services.SendLedgerError(w, models.StoreError("import status", err))
		return
	}
	services.SendJSON(w, http.StatusOK, job)
}

// Template handles GET /imports/template
func (h *ImportHandler) Template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions_template.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(services.ImportTemplate())
}
