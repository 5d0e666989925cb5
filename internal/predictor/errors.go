package predictor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientData is returned when a batch has too few usable rows to fit on
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrMissingColumn is returned when rainfall or a feature column is absent across the whole batch
	ErrMissingColumn = errors.New("missing training column")
	// ErrModelUnavailable is returned when no trained artifact can be loaded
	ErrModelUnavailable = errors.New("rain model unavailable")
	// ErrMissingFeature is returned when an observation lacks a feature the model needs
	ErrMissingFeature = errors.New("missing feature")
	// ErrSchemaMismatch is returned when the artifact on disk was trained on a different feature schema
	ErrSchemaMismatch = fmt.Errorf("%w: feature schema mismatch", ErrModelUnavailable)
)

// MissingColumnError names the columns no row of the batch carries
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingColumn, strings.Join(e.Columns, ", "))
}

func (e *MissingColumnError) Unwrap() error {
	return ErrMissingColumn
}

// MissingFeatureError names the features an observation lacks
type MissingFeatureError struct {
	Features []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingFeature, strings.Join(e.Features, ", "))
}

func (e *MissingFeatureError) Unwrap() error {
	return ErrMissingFeature
}

// IsTrainingError reports whether err is a rejection of the training batch
// rather than a failure to persist the result
func IsTrainingError(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrMissingColumn)
}
