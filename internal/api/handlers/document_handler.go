package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/quorumlabs/lexvault/internal/config"
	"github.com/quorumlabs/lexvault/internal/core"
	"github.com/quorumlabs/lexvault/internal/core/ingestion_engine"
)

type DocumentHandler struct {
	dbclient core.DbClient
	ingestor ingestion_engine.Ingestor
	cfg      *config.Config
}

func NewDocumentHandler(dbclient core.DbClient, ing ingestion_engine.Ingestor, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, ingestor: ing, cfg: cfg}
}

// UploadDocument ingests a single file synchronously and returns its outcome.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.ParseMultipartForm(52 << 20)

	userID, orgID, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "caller identity not found in context", http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("read file: %v", err), http.StatusBadRequest)
		return
	}

	outcome := h.ingestor.Ingest(r.Context(), &ingestion_engine.IngestInput{
		Filename:    filepath.Base(header.Filename),
		ContentType: baseContentType(header.Header.Get("Content-Type")),
		Data:        data,
		OrgID:       orgID,
		UserID:      userID,
	})

	writeJSON(w, statusForOutcome(outcome), outcome)
}

// UploadBatch ingests every file of a multipart folder upload and returns
// per-file outcomes plus the aggregate counts.
func (h *DocumentHandler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	r.ParseMultipartForm(256 << 20)

	userID, orgID, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "caller identity not found in context", http.StatusUnauthorized)
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}

	var inputs []*ingestion_engine.IngestInput
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("open %s: %v", header.Filename, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("read %s: %v", header.Filename, err), http.StatusBadRequest)
			return
		}
		inputs = append(inputs, &ingestion_engine.IngestInput{
			Filename:    filepath.Base(header.Filename),
			ContentType: baseContentType(header.Header.Get("Content-Type")),
			Data:        data,
			OrgID:       orgID,
			UserID:      userID,
		})
	}

	result, err := h.ingestor.IngestBatch(r.Context(), inputs)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrBatchTooLarge) || errors.Is(err, core.ErrEmptyInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type DriveSyncRequest struct {
	URL string `json:"url"`
}

// SyncDriveFolder maps a shared Drive folder and ingests every new or
// changed file inside it.
func (h *DocumentHandler) SyncDriveFolder(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "caller identity not found in context", http.StatusUnauthorized)
		return
	}

	var req DriveSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	folderID := extractFolderID(req.URL)
	if folderID == "" {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}

	result, err := h.ingestor.IngestDriveFolder(r.Context(), folderID, orgID, userID)
	if err != nil {
		http.Error(w, fmt.Sprintf("drive sync failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "caller identity not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.dbclient.ListDocumentsByOrg(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "caller identity not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.dbclient.GetDocumentByID(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil || doc.OrgID != orgID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func statusForOutcome(o *ingestion_engine.IngestOutcome) int {
	switch o.Status {
	case ingestion_engine.OutcomeFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}
