// Package api exposes the receipt pipeline over HTTP: multipart upload,
// job inspection, and the live status event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/veridoc/receipt-ocr-service/internal/models"
	"github.com/veridoc/receipt-ocr-service/internal/queue"
	"github.com/veridoc/receipt-ocr-service/internal/status"
	"github.com/veridoc/receipt-ocr-service/internal/storage"
)

const Version = "1.0.0"

// JobStore is everything the HTTP layer needs from persistence. Both the
// PostgreSQL store and the in-memory store satisfy it.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Handler handles HTTP requests for receipt processing.
type Handler struct {
	config    *models.Config
	store     JobStore
	storage   *storage.Client // nil when object storage is not configured
	pool      *queue.Pool
	publisher *status.Publisher
	logger    *slog.Logger
	dbBacked  bool
}

// NewHandler creates a new API handler.
func NewHandler(
	config *models.Config,
	store JobStore,
	storageClient *storage.Client,
	pool *queue.Pool,
	publisher *status.Publisher,
	logger *slog.Logger,
	dbBacked bool,
) *Handler {
	return &Handler{
		config:    config,
		store:     store,
		storage:   storageClient,
		pool:      pool,
		publisher: publisher,
		logger:    logger,
		dbBacked:  dbBacked,
	}
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/receipts", h.SubmitReceipt).Methods("POST")
	router.HandleFunc("/api/receipts", h.ListReceipts).Methods("GET")
	router.HandleFunc("/api/receipts/{id}", h.GetReceipt).Methods("GET")
	router.HandleFunc("/api/receipts/{id}", h.DeleteReceipt).Methods("DELETE")
	router.HandleFunc("/api/receipts/{id}/events", h.StreamEvents).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

var startTime = time.Now()

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Database  ServiceStatus     `json:"database"`
	Storage   ServiceStatus     `json:"storage"`
	Pipeline  map[string]string `json:"pipeline"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency.
type ServiceStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Health reports service and dependency status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := ServiceStatus{Available: h.dbBacked}
	if !h.dbBacked {
		dbStatus.Error = "running on in-memory store"
	}
	storageStatus := ServiceStatus{Available: h.storage != nil}
	if h.storage == nil {
		storageStatus.Error = "object storage not configured"
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Database: dbStatus,
		Storage:  storageStatus,
		Pipeline: map[string]string{
			"provider":   h.config.AI.Provider,
			"mode":       h.config.AI.Mode,
			"ocrEnabled": fmt.Sprintf("%v", h.config.OCR.Enabled),
			"workers":    fmt.Sprintf("%d", h.config.Worker.Count),
		},
	}

	if h.storage == nil {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// SubmitReceipt accepts one receipt image, stores it, creates a PENDING job
// and enqueues it. Upload validation (size cap, MIME whitelist) happens here
// so the pipeline only ever sees preconditioned input.
func (h *Handler) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	if h.storage == nil {
		h.sendError(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}

	maxBytes := int64(h.config.Image.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return
	}

	// Accept both "file" and "image" field names.
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "no file provided (use 'file' or 'image' field)")
			return
		}
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if !h.mimeAllowed(contentType) {
		h.sendError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("content type %s not allowed", contentType))
		return
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(imageData) == 0 {
		h.sendError(w, http.StatusBadRequest, "empty file")
		return
	}

	jobID := uuid.New().String()
	filename := fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102_150405"),
		jobID[:8],
		storage.FileExtension(contentType),
	)

	imageRef, err := h.storage.Upload(ctx, filename, imageData, contentType)
	if err != nil {
		h.logger.Error("storing upload", "error", err)
		h.sendError(w, http.StatusBadGateway, "failed to store image")
		return
	}

	job := &models.Job{ID: jobID, ImageRef: imageRef}
	if err := h.store.CreateJob(ctx, job); err != nil {
		h.logger.Error("creating job", "job_id", jobID, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.pool.Enqueue(ctx, queue.Job{
		ID:          jobID,
		ImageRef:    imageRef,
		SubmittedAt: time.Now(),
	}); err != nil {
		h.logger.Error("enqueueing job", "job_id", jobID, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"jobId":    jobID,
		"status":   models.StatePending,
		"progress": models.StatePending.Progress(),
	})
}

// GetReceipt returns one job with its receipt, if reconciled.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	jobID := mux.Vars(r)["id"]
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.sendError(w, http.StatusNotFound, fmt.Sprintf("job not found: %s", jobID))
		return
	}
	json.NewEncoder(w).Encode(job)
}

// ListReceipts returns recent jobs, newest first.
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	jobs, err := h.store.ListJobs(r.Context(), 100)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// DeleteReceipt removes a job and its stored image.
func (h *Handler) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	jobID := mux.Vars(r)["id"]
	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.sendError(w, http.StatusNotFound, fmt.Sprintf("job not found: %s", jobID))
		return
	}

	if h.storage != nil && job.ImageRef != "" {
		// Image cleanup is best effort.
		if err := h.storage.Delete(ctx, job.ImageRef); err != nil {
			h.logger.Warn("deleting stored image", "job_id", jobID, "error", err)
		}
	}

	if err := h.store.DeleteJob(ctx, jobID); err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"deleted": jobID})
}

func (h *Handler) mimeAllowed(contentType string) bool {
	for _, allowed := range h.config.Image.AllowedMIMEs {
		if contentType == allowed {
			return true
		}
	}
	return false
}

// sendError sends an error response.
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
