package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Artifact is the serialized rain model
type Artifact struct {
	SchemaVersion string         `json:"schema_version"`
	FeatureNames  []string       `json:"feature_names"`
	RunID         string         `json:"run_id"`
	TrainedAt     time.Time      `json:"trained_at"`
	Rows          int            `json:"rows"`
	Weights       []float64      `json:"weights"`
	Bias          float64        `json:"bias"`
	Means         []float64      `json:"means"`
	Scales        []float64      `json:"scales"`
	Holdout       HoldoutMetrics `json:"holdout"`
}

func (a *Artifact) model() *logisticModel {
	return &logisticModel{weights: a.Weights, bias: a.Bias, means: a.Means, scales: a.Scales}
}

// checkSchema rejects artifacts written for another feature layout
func (a *Artifact) checkSchema() error {
	if a.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: artifact has %q, want %q", ErrSchemaMismatch, a.SchemaVersion, SchemaVersion)
	}
	if len(a.FeatureNames) != len(FeatureNames) {
		return fmt.Errorf("%w: artifact has %d features, want %d", ErrSchemaMismatch, len(a.FeatureNames), len(FeatureNames))
	}
	for i, name := range FeatureNames {
		if a.FeatureNames[i] != name {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrSchemaMismatch, i, a.FeatureNames[i], name)
		}
	}
	d := len(FeatureNames)
	if len(a.Weights) != d || len(a.Means) != d || len(a.Scales) != d {
		return fmt.Errorf("%w: parameter vectors do not match %d features", ErrSchemaMismatch, d)
	}
	return nil
}

// saveArtifact replaces the artifact at path atomically: readers see either
// the previous file or the complete new one
func saveArtifact(path string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}

// loadArtifact reads and validates the artifact at path
func loadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no model has been trained yet", ErrModelUnavailable)
		}
		return nil, fmt.Errorf("%w: failed to read artifact: %v", ErrModelUnavailable, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: corrupt artifact %s: %v", ErrModelUnavailable, path, err)
	}

	if err := a.checkSchema(); err != nil {
		return nil, err
	}

	return &a, nil
}
