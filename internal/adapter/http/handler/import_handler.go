package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/adapter/http/dto"
	"github.com/iho/ynabimport/internal/adapter/sink"
	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/usecase"
)

const (
	uploadField          = "file"
	defaultMaxUploadSize = 10 << 20
)

// AuthService drives the bank login flow.
type AuthService interface {
	Start(ctx context.Context) (*domain.Session, error)
	Confirm(ctx context.Context, sessionID string, answer domain.ChallengeAnswer) (*domain.Session, error)
}

// ImportService runs one import batch.
type ImportService interface {
	Import(ctx context.Context, input usecase.ImportInput) (*domain.BatchSummary, error)
}

// SourceFactory builds sources and batch settings from configuration.
// CheckImport reports missing settings without any network call.
type SourceFactory interface {
	CheckImport(source string, dryRun bool) error
	FileSource(kind string, data []byte) (usecase.Source, error)
	BankSource(session *domain.Session) (usecase.Source, error)
	ImportInput(src usecase.Source, sink usecase.Sink) (usecase.ImportInput, error)
}

// ImportHandler handles import requests.
type ImportHandler struct {
	auth      AuthService
	importer  ImportService
	sources   SourceFactory
	maxUpload int64
	logger    zerolog.Logger
}

// NewImportHandler creates a new ImportHandler. A zero maxUpload uses 10 MiB.
func NewImportHandler(auth AuthService, importer ImportService, sources SourceFactory, maxUpload int64, logger zerolog.Logger) *ImportHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadSize
	}
	return &ImportHandler{
		auth:      auth,
		importer:  importer,
		sources:   sources,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// StartComdirect logs in up to the challenge and returns it. Pass
// ?dry_run=true when the confirm will be a dry run, so the budget settings are
// not demanded.
func (h *ImportHandler) StartComdirect(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	if err := h.sources.CheckImport(domain.SourceComdirect, dryRun); err != nil {
		writeError(w, mapDomainError(err), "invalid import settings", err.Error())
		return
	}

	session, err := h.auth.Start(r.Context())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to start bank login", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.SessionFromDomain(session))
}

// ConfirmComdirect finishes the bank login and imports the account.
func (h *ImportHandler) ConfirmComdirect(w http.ResponseWriter, r *http.Request) {
	var req dto.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.sources.CheckImport(domain.SourceComdirect, req.DryRun); err != nil {
		writeError(w, mapDomainError(err), "invalid import settings", err.Error())
		return
	}

	session, err := h.auth.Confirm(r.Context(), req.SessionID, req.Answer())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to confirm bank login", err.Error())
		return
	}

	src, err := h.sources.BankSource(session)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to open bank source", err.Error())
		return
	}

	h.run(w, r, src, req.DryRun)
}

// ImportFile imports an uploaded csv, pdf or paypal export. The kind is the
// {source} path parameter and the file the "file" multipart field.
func (h *ImportHandler) ImportFile(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "source")
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "missing upload", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}

	src, err := h.sources.FileSource(kind, data)
	if err != nil {
		writeError(w, mapDomainError(err), "unsupported source", err.Error())
		return
	}
	if err := h.sources.CheckImport(src.Name(), dryRun); err != nil {
		writeError(w, mapDomainError(err), "invalid import settings", err.Error())
		return
	}

	h.run(w, r, src, dryRun)
}

func (h *ImportHandler) run(w http.ResponseWriter, r *http.Request, src usecase.Source, dryRun bool) {
	var (
		rows bytes.Buffer
		out  usecase.Sink
	)
	if dryRun {
		out = sink.NewCSVSink(&rows)
	}

	input, err := h.sources.ImportInput(src, out)
	if err != nil {
		writeError(w, mapDomainError(err), "invalid import settings", err.Error())
		return
	}

	summary, err := h.importer.Import(r.Context(), input)
	if err != nil {
		h.logger.Error().Err(err).Str("source", src.Name()).Msg("import aborted")
		writeError(w, mapDomainError(err), "import aborted", err.Error())
		return
	}

	resp := dto.ImportFromDomain(summary)
	if dryRun {
		resp.Rows = rows.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
