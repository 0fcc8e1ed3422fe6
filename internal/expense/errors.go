package expense

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the ingestion pipeline. Match with errors.Is.
var (
	// ErrInput means the upload is not a readable image
	ErrInput = errors.New("invalid receipt input")
	// ErrExtraction means the extractor or a classifier call failed
	ErrExtraction = errors.New("receipt extraction failed")
	// ErrNormalization means a classifier answer had the wrong shape
	ErrNormalization = errors.New("receipt answer normalization failed")
	// ErrPersist means the record store rejected the write
	ErrPersist = errors.New("saving expense failed")
)

// Stage names a step of the ingestion pipeline
type Stage string

const (
	StageAcquire  Stage = "acquire"
	StageExtract  Stage = "extract"
	StageCategory Stage = "category"
	StagePrice    Stage = "price"
	StageMerchant Stage = "merchant"
	StagePersist  Stage = "persist"
)

// PipelineError records which stage failed and with what kind
type PipelineError struct {
	Kind  error
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches the error kind as well as anything in the wrapped chain
func (e *PipelineError) Is(target error) bool {
	return target == e.Kind
}

func newPipelineError(kind error, stage Stage, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// outcome is the metrics label for an error returned by IngestReceipt
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInput):
		return "input_failure"
	case errors.Is(err, ErrNormalization):
		return "normalization_failure"
	case errors.Is(err, ErrExtraction):
		return "extraction_failure"
	case errors.Is(err, ErrPersist):
		return "persist_failure"
	default:
		return "error"
	}
}
