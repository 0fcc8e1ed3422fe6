package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/metrics"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// ClassifyMode selects how the three receipt fields are requested
type ClassifyMode string

const (
	// ClassifySequential asks for category, price and merchant in three calls
	ClassifySequential ClassifyMode = "sequential"
	// ClassifyBatched asks for all three fields as one JSON object
	ClassifyBatched ClassifyMode = "batched"
)

// ParseClassifyMode validates a mode name. Empty means sequential.
func ParseClassifyMode(s string) (ClassifyMode, error) {
	switch ClassifyMode(s) {
	case "", ClassifySequential:
		return ClassifySequential, nil
	case ClassifyBatched:
		return ClassifyBatched, nil
	default:
		return "", fmt.Errorf("unknown classify mode %q", s)
	}
}

// Options tunes the ingestion pipeline
type Options struct {
	Mode ClassifyMode
	// KeepUnknownCategories stores labels outside Categories as returned
	// instead of coercing them to Other
	KeepUnknownCategories bool
	// Metrics defaults to collectors on a private registry
	Metrics *metrics.Pipeline
}

const batchedAnswerSchemaJSON = `{
  "type": "object",
  "properties": {
    "category": {"type": "string"},
    "price":    {"type": ["string", "number"]},
    "merchant": {"type": "string"}
  },
  "required": ["category", "price", "merchant"]
}`

var batchedAnswerSchema = jsonschema.MustCompileString("answer.json", batchedAnswerSchemaJSON)

// Service handles expense operations
type Service struct {
	store      Store
	extractor  scanning.Extractor
	classifier scanning.Classifier
	artifacts  Artifacts
	metrics    *metrics.Pipeline
	opts       Options
}

// NewService creates a new Service
func NewService(store Store, extractor scanning.Extractor, classifier scanning.Classifier, artifacts Artifacts, opts Options) *Service {
	if opts.Mode == "" {
		opts.Mode = ClassifySequential
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewPipeline(prometheus.NewRegistry())
	}

	return &Service{
		store:      store,
		extractor:  extractor,
		classifier: classifier,
		artifacts:  artifacts,
		metrics:    m,
		opts:       opts,
	}
}

// fields holds the three classifier answers after normalization
type fields struct {
	category Category
	amount   decimal.Decimal
	merchant string
}

// IngestReceipt turns an uploaded receipt image into a persisted expense. The
// temporary artifact is removed on every exit path.
func (s *Service) IngestReceipt(ctx context.Context, userID string, upload Upload) (expense *Expense, err error) {
	defer func() {
		s.metrics.RecordRun(outcome(err))
	}()

	if userID == "" {
		return nil, newPipelineError(ErrInput, StageAcquire, errors.New("missing user id"))
	}
	if len(upload.Data) == 0 {
		return nil, newPipelineError(ErrInput, StageAcquire, errors.New("empty upload"))
	}

	logger := slog.With("user_id", userID, "filename", upload.Filename)

	start := time.Now()
	artifact, err := s.artifacts.Acquire(upload.Filename, upload.Data)
	s.metrics.ObserveStage(string(StageAcquire), start)
	if err != nil {
		logger.Error("Failed to write receipt artifact", "error", err)
		return nil, fmt.Errorf("writing receipt artifact: %w", err)
	}
	defer func() {
		if releaseErr := s.artifacts.Release(artifact); releaseErr != nil {
			logger.Warn("Failed to remove receipt artifact", "path", artifact.Path, "error", releaseErr)
		}
	}()

	start = time.Now()
	doc, err := s.extractor.Extract(ctx, artifact.Path)
	s.metrics.ObserveStage(string(StageExtract), start)
	if err != nil {
		logger.Error("Failed to extract receipt",
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		if errors.Is(err, scanning.ErrUnreadableImage) {
			return nil, newPipelineError(ErrInput, StageExtract, err)
		}
		return nil, newPipelineError(ErrExtraction, StageExtract, err)
	}
	logger.Debug("Receipt extracted", "merchant", doc.Merchant, "total", doc.TotalAmount)

	var f fields
	if s.opts.Mode == ClassifyBatched {
		f, err = s.classifyBatched(ctx, doc.Text())
	} else {
		f, err = s.classifySequential(ctx, doc.Text())
	}
	if err != nil {
		logger.Error("Failed to classify receipt", "error", err)
		return nil, err
	}

	if !f.category.Valid() {
		s.metrics.UnknownCategories.Inc()
		logger.Warn("Classifier returned unknown category", "category", string(f.category))
		if !s.opts.KeepUnknownCategories {
			f.category = CategoryOther
		}
	}

	expense = &Expense{
		UserID:       userID,
		Amount:       f.amount,
		Category:     f.category,
		BusinessName: f.merchant,
	}

	start = time.Now()
	err = s.store.Insert(ctx, expense)
	s.metrics.ObserveStage(string(StagePersist), start)
	if err != nil {
		logger.Error("Failed to save expense", "error", err)
		return nil, newPipelineError(ErrPersist, StagePersist, err)
	}

	logger.Info("Expense saved",
		"id", expense.ID,
		"category", string(expense.Category),
		"amount", expense.Amount.String(),
	)
	return expense, nil
}

func (s *Service) classify(ctx context.Context, stage Stage, instruction, document string) (string, error) {
	start := time.Now()
	answer, err := s.classifier.Classify(ctx, scanning.RoleSystem, instruction, document)
	s.metrics.ObserveStage(string(stage), start)
	if err != nil {
		return "", newPipelineError(ErrExtraction, stage, err)
	}
	if StripReasoning(answer) == "" {
		return "", newPipelineError(ErrExtraction, stage, errors.New("empty answer"))
	}
	return answer, nil
}

func (s *Service) classifySequential(ctx context.Context, document string) (fields, error) {
	var f fields

	answer, err := s.classify(ctx, StageCategory, categoryInstruction, document)
	if err != nil {
		return f, err
	}
	f.category = Category(NormalizeText(answer))

	answer, err = s.classify(ctx, StagePrice, priceInstruction, document)
	if err != nil {
		return f, err
	}
	if f.amount, err = NormalizePrice(answer); err != nil {
		return f, newPipelineError(ErrNormalization, StagePrice, err)
	}

	answer, err = s.classify(ctx, StageMerchant, merchantInstruction, document)
	if err != nil {
		return f, err
	}
	f.merchant = NormalizeText(answer)

	return f, nil
}

// classifyBatched requests all three fields at once. Failures are attributed
// to the category stage since that is the first field of the call.
func (s *Service) classifyBatched(ctx context.Context, document string) (fields, error) {
	var f fields

	answer, err := s.classify(ctx, StageCategory, batchedInstruction, document)
	if err != nil {
		return f, err
	}

	text, err := scanning.ExtractJSONObject(StripReasoning(answer))
	if err != nil {
		return f, newPipelineError(ErrNormalization, StageCategory, err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return f, newPipelineError(ErrNormalization, StageCategory, fmt.Errorf("unmarshaling answer: %w", err))
	}
	if err := batchedAnswerSchema.Validate(raw); err != nil {
		return f, newPipelineError(ErrNormalization, StageCategory, fmt.Errorf("answer does not match schema: %w", err))
	}

	price := fmt.Sprint(raw["price"])
	if n, ok := raw["price"].(float64); ok {
		price = decimal.NewFromFloat(n).String()
	}

	f.category = Category(NormalizeText(raw["category"].(string)))
	if f.amount, err = NormalizePrice(price); err != nil {
		return f, newPipelineError(ErrNormalization, StagePrice, err)
	}
	f.merchant = NormalizeText(raw["merchant"].(string))
	if f.merchant == "" {
		return f, newPipelineError(ErrExtraction, StageMerchant, errors.New("empty answer"))
	}
	return f, nil
}

// ListExpenses returns the user's expenses, oldest first
func (s *Service) ListExpenses(ctx context.Context, userID string) ([]*Expense, error) {
	expenses, err := s.store.SelectByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// UpdateExpense replaces amount, category and business name of an expense
func (s *Service) UpdateExpense(ctx context.Context, expense *Expense) error {
	if expense.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInput)
	}
	if !expense.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInput, expense.Category)
	}
	if err := s.store.UpdateByID(ctx, expense); err != nil {
		return fmt.Errorf("updating expense: %w", err)
	}
	return nil
}

// DeleteExpense removes an expense owned by the user
func (s *Service) DeleteExpense(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteByID(ctx, userID, id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

// ExportExpenses writes the user's expenses to w as an xlsx workbook
func (s *Service) ExportExpenses(ctx context.Context, userID string, w io.Writer) error {
	expenses, err := s.ListExpenses(ctx, userID)
	if err != nil {
		return err
	}
	if err := WriteWorkbook(w, expenses); err != nil {
		return fmt.Errorf("exporting expenses: %w", err)
	}
	return nil
}
