package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/veridoc/receipt-ocr-service/internal/db"
	"github.com/veridoc/receipt-ocr-service/internal/models"
	"github.com/veridoc/receipt-ocr-service/internal/queue"
	"github.com/veridoc/receipt-ocr-service/internal/status"
)

func newTestHandler(t *testing.T, store JobStore) (*Handler, *mux.Router) {
	t.Helper()
	cfg := &models.Config{}
	cfg.ApplyDefaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := queue.NewPool(
		queue.ProcessorFunc(func(context.Context, string, string) error { return nil }),
		logger,
		queue.WithWorkers(1),
	)
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	h := NewHandler(cfg, store, nil, pool, status.NewPublisher(), logger, false)
	return h, h.SetupRoutes()
}

func TestSubmitWithoutStorageIsUnavailable(t *testing.T) {
	_, router := newTestHandler(t, db.NewMemStore())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without object storage", rec.Code)
	}
}

func TestGetReceipt(t *testing.T) {
	store := db.NewMemStore()
	store.CreateJob(context.Background(), &models.Job{ID: "j1", ImageRef: "ref"})
	_, router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/receipts/j1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var job models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if job.ID != "j1" || job.State != models.StatePending {
		t.Errorf("job = %+v", job)
	}
}

func TestGetReceiptNotFound(t *testing.T) {
	_, router := newTestHandler(t, db.NewMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/receipts/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListReceipts(t *testing.T) {
	store := db.NewMemStore()
	store.CreateJob(context.Background(), &models.Job{ID: "a"})
	store.CreateJob(context.Background(), &models.Job{ID: "b"})
	_, router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/receipts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Jobs  []models.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 2 || len(body.Jobs) != 2 {
		t.Errorf("count = %d, jobs = %d, want 2", body.Count, len(body.Jobs))
	}
}

func TestDeleteReceipt(t *testing.T) {
	store := db.NewMemStore()
	store.CreateJob(context.Background(), &models.Job{ID: "j1"})
	_, router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodDelete, "/api/receipts/j1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if _, err := store.GetJob(context.Background(), "j1"); err == nil {
		t.Error("job still present after delete")
	}
}

func TestStreamEventsReplaysTerminalJob(t *testing.T) {
	store := db.NewMemStore()
	store.CreateJob(context.Background(), &models.Job{ID: "j1"})
	store.SetState(context.Background(), "j1", models.StateCompleted, "")
	store.SaveReceipt(context.Background(), "j1", &models.ReconciledReceipt{MerchantName: "Cafe"})
	_, router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/receipts/j1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var types []string
	for _, frame := range strings.Split(rec.Body.String(), "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		var ev status.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("decoding frame %q: %v", frame, err)
		}
		types = append(types, ev.Type)
	}

	want := []string{"connected", "status", "complete"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestStreamEventsUnknownJob(t *testing.T) {
	_, router := newTestHandler(t, db.NewMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/receipts/ghost/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthReportsDegradedWithoutStorage(t *testing.T) {
	_, router := newTestHandler(t, db.NewMemStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when storage is missing", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", health.Status)
	}
	if health.Storage.Available {
		t.Error("storage reported available")
	}
}
