package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/veridoc/receipt-ocr-service/internal/extract"
	"github.com/veridoc/receipt-ocr-service/internal/models"
	"github.com/veridoc/receipt-ocr-service/internal/status"
)

// recordingStore captures every state transition in order.
type recordingStore struct {
	mu          sync.Mutex
	transitions []models.JobState
	causes      []string
	receipts    []*models.ReconciledReceipt
}

func (s *recordingStore) SetState(_ context.Context, _ string, state models.JobState, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, state)
	s.causes = append(s.causes, cause)
	return nil
}

func (s *recordingStore) SaveReceipt(_ context.Context, _ string, receipt *models.ReconciledReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, receipt)
	return nil
}

type staticFetcher struct {
	data []byte
	mime string
	err  error
}

func (f *staticFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return f.data, f.mime, f.err
}

type stubProvider struct {
	name      string
	needsText bool
	result    *models.ExtractionResult
	err       error
	gotText   string
}

func (p *stubProvider) Name() string    { return p.name }
func (p *stubProvider) NeedsText() bool { return p.needsText }
func (p *stubProvider) Parse(_ context.Context, _ []byte, text string) (*models.ExtractionResult, error) {
	p.gotText = text
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 96))
	for i := range img.Pix {
		img.Pix[i] = 220
	}
	img.Set(10, 10, color.Gray{Y: 30})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func testConfig() *models.Config {
	cfg := &models.Config{}
	cfg.ApplyDefaults()
	cfg.OCR.Enabled = false
	return cfg
}

func newTestRunner(t *testing.T, store Store, provider extract.Provider, fetcher ImageFetcher) (*Runner, *status.Publisher) {
	t.Helper()
	publisher := status.NewPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(testConfig(), store, publisher, fetcher, provider, logger), publisher
}

func TestRunCompletesAndReconciles(t *testing.T) {
	declared := decimal.RequireFromString("8.97")
	provider := &stubProvider{
		name: "stub",
		result: &models.ExtractionResult{
			MerchantName: "Corner Grocery",
			PurchaseDate: "invalid-date",
			Items: []models.LineItem{
				{Name: "Milk", UnitPrice: decimal.RequireFromString("3.99"), Quantity: 1},
				{Name: "Bread", UnitPrice: decimal.RequireFromString("2.49"), Quantity: 2},
			},
			DeclaredTotal:      &declared,
			Currency:           "USD",
			ProviderConfidence: 0.9,
		},
	}
	store := &recordingStore{}
	runner, _ := newTestRunner(t, store, provider, &staticFetcher{data: testImage(t), mime: "image/png"})

	receipt, err := runner.Run(context.Background(), "job-1", "2025/06/a.png")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []models.JobState{models.StateProcessing, models.StateCompleted}
	if len(store.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", store.transitions, want)
	}
	for i := range want {
		if store.transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %s, want %s", i, store.transitions[i], want[i])
		}
	}

	if !receipt.ComputedTotal.Equal(decimal.RequireFromString("8.97")) {
		t.Errorf("ComputedTotal = %s, want 8.97", receipt.ComputedTotal)
	}
	if receipt.Discrepancy == nil || !receipt.Discrepancy.IsZero() {
		t.Errorf("Discrepancy = %v, want zero", receipt.Discrepancy)
	}
	if receipt.PurchaseDate != nil {
		t.Errorf("PurchaseDate = %v, unparseable date must come back absent", receipt.PurchaseDate)
	}
	if receipt.OverallConfidence != 0.9 {
		t.Errorf("OverallConfidence = %v, want provider's 0.9 (no OCR stage ran)", receipt.OverallConfidence)
	}
	if receipt.Provider != "stub" {
		t.Errorf("Provider = %q", receipt.Provider)
	}
	if len(store.receipts) != 1 {
		t.Errorf("SaveReceipt calls = %d, want 1", len(store.receipts))
	}
}

func TestRunFailsOnUndecodableImage(t *testing.T) {
	store := &recordingStore{}
	provider := &stubProvider{name: "stub", result: &models.ExtractionResult{}}
	runner, _ := newTestRunner(t, store, provider, &staticFetcher{data: []byte("not an image"), mime: "image/jpeg"})

	_, err := runner.Run(context.Background(), "job-2", "ref")
	if err == nil {
		t.Fatal("Run() succeeded on undecodable bytes")
	}

	want := []models.JobState{models.StateProcessing, models.StateFailed}
	if len(store.transitions) != 2 || store.transitions[0] != want[0] || store.transitions[1] != want[1] {
		t.Fatalf("transitions = %v, want %v", store.transitions, want)
	}
	if store.causes[1] == "" {
		t.Error("failure recorded without a cause")
	}
	if len(store.receipts) != 0 {
		t.Errorf("receipt persisted for a failed job: %+v", store.receipts)
	}
}

func TestRunFailsOnProviderError(t *testing.T) {
	store := &recordingStore{}
	provider := &stubProvider{
		name: "stub",
		err:  &extract.ProviderUnavailableError{Provider: "stub", Cause: errors.New("401 unauthorized")},
	}
	runner, publisher := newTestRunner(t, store, provider, &staticFetcher{data: testImage(t), mime: "image/png"})

	events, cancel := publisher.Subscribe(&models.Job{ID: "job-3", State: models.StatePending})
	defer cancel()

	_, err := runner.Run(context.Background(), "job-3", "ref")
	var unavailErr *extract.ProviderUnavailableError
	if !errors.As(err, &unavailErr) {
		t.Fatalf("error = %v, want ProviderUnavailableError", err)
	}
	if store.transitions[len(store.transitions)-1] != models.StateFailed {
		t.Errorf("final transition = %s, want FAILED", store.transitions[len(store.transitions)-1])
	}

	var sawComplete bool
	for ev := range events {
		if ev.Type == "complete" {
			sawComplete = true
			data := ev.Data.(status.CompleteData)
			if data.Error == "" || data.Receipt != nil {
				t.Errorf("terminal payload = %+v, want error and no receipt", data)
			}
		}
	}
	if !sawComplete {
		t.Error("subscriber never observed the terminal event")
	}
}

func TestRunEmptyExtractionCompletesWithZeroConfidence(t *testing.T) {
	store := &recordingStore{}
	provider := &stubProvider{
		name:      "fallback",
		needsText: true, // OCR disabled: the stage runs degraded and scores zero
		result:    &models.ExtractionResult{Items: []models.LineItem{}},
	}
	runner, _ := newTestRunner(t, store, provider, &staticFetcher{data: testImage(t), mime: "image/png"})

	receipt, err := runner.Run(context.Background(), "job-4", "ref")
	if err != nil {
		t.Fatalf("Run() error = %v, empty extraction must not fail the job", err)
	}
	if receipt.OverallConfidence != 0 {
		t.Errorf("OverallConfidence = %v, want 0", receipt.OverallConfidence)
	}
	if !receipt.ComputedTotal.IsZero() {
		t.Errorf("ComputedTotal = %s, want 0", receipt.ComputedTotal)
	}
	if store.transitions[len(store.transitions)-1] != models.StateCompleted {
		t.Errorf("final state = %s, want COMPLETED", store.transitions[len(store.transitions)-1])
	}
}

func TestRunIsDeterministicAcrossReruns(t *testing.T) {
	declared := decimal.RequireFromString("12.00")
	provider := &stubProvider{
		name: "stub",
		result: &models.ExtractionResult{
			MerchantName:       "Deli",
			Items:              []models.LineItem{{Name: "Sandwich", UnitPrice: decimal.RequireFromString("6.00"), Quantity: 2}},
			DeclaredTotal:      &declared,
			ProviderConfidence: 0.8,
		},
	}
	store := &recordingStore{}
	runner, _ := newTestRunner(t, store, provider, &staticFetcher{data: testImage(t), mime: "image/png"})

	first, err := runner.Run(context.Background(), "job-5", "ref")
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := runner.Run(context.Background(), "job-5", "ref")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if first.MerchantName != second.MerchantName ||
		!first.ComputedTotal.Equal(second.ComputedTotal) ||
		first.OverallConfidence != second.OverallConfidence ||
		len(first.Items) != len(second.Items) {
		t.Errorf("reruns disagree: %+v vs %+v", first, second)
	}
}

func TestRunSkipsOCRForVisionProvider(t *testing.T) {
	provider := &stubProvider{
		name:   "vision",
		result: &models.ExtractionResult{ProviderConfidence: 0.6},
	}
	store := &recordingStore{}
	runner, _ := newTestRunner(t, store, provider, &staticFetcher{data: testImage(t), mime: "image/png"})

	receipt, err := runner.Run(context.Background(), "job-6", "ref")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if provider.gotText != "" {
		t.Errorf("vision provider received OCR text %q", provider.gotText)
	}
	// The skipped stage contributes nothing: only the provider's score counts.
	if receipt.OverallConfidence != 0.6 {
		t.Errorf("OverallConfidence = %v, want 0.6", receipt.OverallConfidence)
	}
}
