// Package pipeline drives the extraction-and-reconciliation chain for one
// job and owns the job-state machine.
//
// A job moves PENDING → PROCESSING → exactly one of COMPLETED or FAILED.
// Soft errors (OCR timeout, out-of-window date, empty extraction) degrade
// the result and still complete; fatal errors (undecodable image, provider
// or schema failure, panic) fail the job with the verbatim cause. Nothing is
// retried here: retry is a job-queue-level policy over whole jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridoc/receipt-ocr-service/internal/extract"
	"github.com/veridoc/receipt-ocr-service/internal/imaging"
	"github.com/veridoc/receipt-ocr-service/internal/models"
	"github.com/veridoc/receipt-ocr-service/internal/ocr"
	"github.com/veridoc/receipt-ocr-service/internal/reconcile"
	"github.com/veridoc/receipt-ocr-service/internal/status"
	"github.com/veridoc/receipt-ocr-service/internal/validate"
)

// Store is the narrow persistence contract the pipeline proposes state
// transitions through. Re-running a job id simply overwrites with a fresh
// receipt, which keeps at-least-once queue delivery safe.
type Store interface {
	SetState(ctx context.Context, jobID string, state models.JobState, cause string) error
	SaveReceipt(ctx context.Context, jobID string, receipt *models.ReconciledReceipt) error
}

// ImageFetcher reads the raw image bytes for a job. The pipeline never
// addresses storage beyond this one read.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (data []byte, mime string, err error)
}

// Runner executes the full pipeline for one job per call. Safe for
// concurrent use; each invocation owns its image buffers and OCR engine
// exclusively.
type Runner struct {
	store      Store
	publisher  *status.Publisher
	fetcher    ImageFetcher
	normalizer *imaging.Normalizer
	provider   extract.Provider
	logger     *slog.Logger

	newOCR          func() (ocr.Engine, error)
	ocrEnabled      bool
	ocrTimeout      time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

// NewRunner wires a runner from configuration and collaborators.
func NewRunner(
	cfg *models.Config,
	store Store,
	publisher *status.Publisher,
	fetcher ImageFetcher,
	provider extract.Provider,
	logger *slog.Logger,
) *Runner {
	lang := cfg.OCR.Language
	return &Runner{
		store:      store,
		publisher:  publisher,
		fetcher:    fetcher,
		normalizer: imaging.NewNormalizer(cfg.Image.MaxEdge, cfg.Image.JPEGQuality),
		provider:   provider,
		logger:     logger,
		newOCR: func() (ocr.Engine, error) {
			return ocr.NewEngine(lang)
		},
		ocrEnabled:      cfg.OCR.Enabled,
		ocrTimeout:      time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
		providerTimeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		now:             time.Now,
	}
}

// Run drives one job through every stage and returns the reconciled receipt
// or the error that failed the job. State transitions are notified exactly
// once each, in order, to the store and the status publisher.
func (r *Runner) Run(ctx context.Context, jobID, imageRef string) (receipt *models.ReconciledReceipt, err error) {
	log := r.logger.With("job_id", jobID)

	if err := r.transition(ctx, jobID, models.StateProcessing, ""); err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
			log.Error("pipeline panicked", "cause", rec)
			r.fail(ctx, jobID, err)
		}
	}()

	receipt, err = r.process(ctx, jobID, imageRef, log)
	if err != nil {
		log.Error("job failed", "error", err)
		r.fail(ctx, jobID, err)
		return nil, err
	}

	if err := r.store.SaveReceipt(ctx, jobID, receipt); err != nil {
		err = fmt.Errorf("persisting receipt: %w", err)
		log.Error("job failed", "error", err)
		r.fail(ctx, jobID, err)
		return nil, err
	}
	if err := r.store.SetState(ctx, jobID, models.StateCompleted, ""); err != nil {
		log.Error("recording completion", "error", err)
		return nil, err
	}
	r.publisher.PublishTerminal(&models.Job{
		ID:      jobID,
		State:   models.StateCompleted,
		Receipt: receipt,
	})

	log.Info("job completed",
		"provider", receipt.Provider,
		"items", len(receipt.Items),
		"computed_total", receipt.ComputedTotal.String(),
		"confidence", receipt.OverallConfidence,
	)
	return receipt, nil
}

// process runs the six stages strictly sequentially. The returned receipt is
// a pure function of the image bytes and configuration, so re-running a job
// yields an equal value.
func (r *Runner) process(ctx context.Context, jobID, imageRef string, log *slog.Logger) (*models.ReconciledReceipt, error) {
	raw, mime, err := r.fetcher.Fetch(ctx, imageRef)
	if err != nil {
		return nil, fmt.Errorf("fetching image %s: %w", imageRef, err)
	}

	normalized, err := r.normalizer.Normalize(raw, mime)
	if err != nil {
		return nil, err // *imaging.DecodeError is fatal
	}

	// Confidence values actually produced in this run. A skipped stage
	// contributes nothing; a stage that ran and degraded contributes its
	// (possibly zero) score.
	var confidences []float64

	var text string
	if r.provider.NeedsText() {
		result := r.recognize(ctx, normalized, log)
		text = result.Text
		confidences = append(confidences, result.Confidence)
	}

	extCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	extraction, err := r.provider.Parse(extCtx, normalized, text)
	cancel()
	if err != nil {
		if extCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			err = &extract.ProviderUnavailableError{Provider: r.provider.Name(), Cause: err}
		}
		return nil, err
	}
	confidences = append(confidences, extraction.ProviderConfidence)

	receipt := &models.ReconciledReceipt{
		MerchantName:  extraction.MerchantName,
		Items:         extraction.Items,
		DeclaredTotal: extraction.DeclaredTotal,
		Currency:      extraction.Currency,
		ComputedTotal: reconcile.ComputeTotal(extraction.Items),
		Provider:      r.provider.Name(),
		OCRText:       text,
		ProcessedAt:   r.now().UTC(),
	}

	if date, ok := validate.PurchaseDate(extraction.PurchaseDate, r.now()); ok {
		receipt.PurchaseDate = &date
	} else if extraction.PurchaseDate != "" {
		log.Warn("purchase date rejected", "raw", extraction.PurchaseDate)
	}

	if extraction.DeclaredTotal != nil {
		d := reconcile.Discrepancy(*extraction.DeclaredTotal, receipt.ComputedTotal)
		receipt.Discrepancy = &d
		if !d.IsZero() {
			log.Info("total discrepancy",
				"declared", extraction.DeclaredTotal.String(),
				"computed", receipt.ComputedTotal.String(),
				"discrepancy", d.String(),
			)
		}
	}

	receipt.OverallConfidence = reconcile.CombineConfidence(confidences)
	return receipt, nil
}

// recognize runs the OCR stage. Every failure here is soft: the pipeline
// proceeds with empty text and zero confidence rather than aborting, since
// some extractor variants need no text at all.
func (r *Runner) recognize(ctx context.Context, image []byte, log *slog.Logger) ocr.Result {
	if !r.ocrEnabled {
		return ocr.Result{}
	}
	engine, err := r.newOCR()
	if err != nil {
		log.Warn("ocr engine unavailable", "error", err)
		return ocr.Result{}
	}
	defer engine.Close()

	ocrCtx, cancel := context.WithTimeout(ctx, r.ocrTimeout)
	defer cancel()

	result, err := engine.Recognize(ocrCtx, image)
	if err != nil {
		log.Warn("ocr degraded to empty text", "error", err)
		return ocr.Result{}
	}
	return result
}

// transition records a state change and notifies subscribers, in that order.
func (r *Runner) transition(ctx context.Context, jobID string, state models.JobState, cause string) error {
	if err := r.store.SetState(ctx, jobID, state, cause); err != nil {
		return fmt.Errorf("recording %s transition: %w", state, err)
	}
	r.publisher.PublishState(jobID, state)
	return nil
}

// fail moves the job to FAILED with the verbatim cause. Errors recording the
// failure are logged and dropped; the job outcome is already decided.
func (r *Runner) fail(ctx context.Context, jobID string, cause error) {
	if err := r.store.SetState(ctx, jobID, models.StateFailed, cause.Error()); err != nil {
		r.logger.Error("recording failure", "job_id", jobID, "error", err)
	}
	r.publisher.PublishTerminal(&models.Job{
		ID:    jobID,
		State: models.StateFailed,
		Error: cause.Error(),
	})
}
