// Package predictor trains and serves the rain classifier.
//
// A Pipeline owns the single current model. Predict loads it lazily from the
// artifact file; Train fits a new model, persists it, and only then swaps it
// in, so a concurrent Predict sees either the old model or the new one.
package predictor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"raincast/internal/metrics"
	"raincast/internal/models"
)

// Model states
const (
	StateUntrained = "untrained"
	StateTrained   = "trained"
)

// Options configures a Pipeline. Zero values take the defaults.
type Options struct {
	ArtifactPath    string
	MinRows         int
	Seed            int64
	HoldoutFraction float64
	LearningRate    float64
	Iterations      int
	L2              float64
}

func (o Options) withDefaults() Options {
	if o.ArtifactPath == "" {
		o.ArtifactPath = "rain_model.json"
	}
	if o.MinRows <= 0 {
		o.MinRows = 10
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.HoldoutFraction <= 0 || o.HoldoutFraction >= 1 {
		o.HoldoutFraction = 0.2
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.1
	}
	if o.Iterations <= 0 {
		o.Iterations = 2000
	}
	if o.L2 < 0 {
		o.L2 = 0
	} else if o.L2 == 0 {
		o.L2 = 0.01
	}
	return o
}

// TrainingReport summarizes one training run
type TrainingReport struct {
	RunID         string         `json:"run_id"`
	SchemaVersion string         `json:"schema_version"`
	TrainedAt     time.Time      `json:"trained_at"`
	InputRows     int            `json:"input_rows"`
	DroppedRows   int            `json:"dropped_rows"`
	TrainRows     int            `json:"train_rows"`
	RainyRows     int            `json:"rainy_rows"`
	Holdout       HoldoutMetrics `json:"holdout"`
}

// Pipeline is the rain model handle shared by training and prediction
type Pipeline struct {
	opts Options

	mu    sync.RWMutex
	model *Artifact

	trainMu sync.Mutex
}

// New creates a pipeline backed by the artifact at opts.ArtifactPath. No file
// is read until the first prediction.
func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts.withDefaults()}
}

// current returns the resident model, loading it from disk on first use
func (p *Pipeline) current() (*Artifact, error) {
	p.mu.RLock()
	a := p.model
	p.mu.RUnlock()
	if a != nil {
		return a, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model, nil
	}

	a, err := loadArtifact(p.opts.ArtifactPath)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded rain model", "path", p.opts.ArtifactPath, "run_id", a.RunID, "trained_at", a.TrainedAt)
	p.model = a
	return a, nil
}

// State reports whether a model is available
func (p *Pipeline) State() string {
	if _, err := p.current(); err != nil {
		return StateUntrained
	}
	return StateTrained
}

// Predict returns P(rain) for obs rounded to 4 decimal places
func (p *Pipeline) Predict(obs models.Observation) (float64, error) {
	prob, err := p.predict(obs)
	metrics.RecordPrediction(err)
	return prob, err
}

func (p *Pipeline) predict(obs models.Observation) (float64, error) {
	a, err := p.current()
	if err != nil {
		return 0, err
	}

	x, missing := featureValues(obs)
	if missing != nil {
		return 0, &MissingFeatureError{Features: missing}
	}

	return math.Round(a.model().probability(x)*1e4) / 1e4, nil
}

// Train fits a new model on batch, writes it to the artifact path and makes it
// current. Rows lacking any feature or rainfall are dropped first. Holdout
// metrics are reported but never reject a model.
func (p *Pipeline) Train(batch []models.Observation) (*TrainingReport, error) {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	report, err := p.train(batch)
	if err != nil {
		metrics.RecordTraining(0, 0, 0, err)
		slog.Warn("rain model training rejected", "rows", len(batch), "err", err)
		return nil, err
	}

	metrics.RecordTraining(report.TrainRows, report.Holdout.Precision, report.Holdout.Recall, nil)
	slog.Info("trained rain model",
		"run_id", report.RunID,
		"rows", report.InputRows,
		"dropped", report.DroppedRows,
		"train_rows", report.TrainRows,
		"holdout_rows", report.Holdout.Rows,
		"precision", report.Holdout.Precision,
		"recall", report.Holdout.Recall,
		"accuracy", report.Holdout.Accuracy)
	return report, nil
}

func (p *Pipeline) train(batch []models.Observation) (*TrainingReport, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInsufficientData)
	}

	if absent := absentColumns(batch); len(absent) > 0 {
		return nil, &MissingColumnError{Columns: absent}
	}

	x := make([][]float64, 0, len(batch))
	y := make([]float64, 0, len(batch))
	rainy := 0
	for _, obs := range batch {
		row, missing := featureValues(obs)
		if missing != nil || obs.Rainfall == nil {
			continue
		}
		label := Label(obs)
		if label == 1 {
			rainy++
		}
		x = append(x, row)
		y = append(y, label)
	}

	report := &TrainingReport{
		SchemaVersion: SchemaVersion,
		InputRows:     len(batch),
		DroppedRows:   len(batch) - len(x),
		RainyRows:     rainy,
	}

	if len(x) < p.opts.MinRows {
		return nil, fmt.Errorf("%w: %d usable rows (%d dropped), need at least %d",
			ErrInsufficientData, len(x), report.DroppedRows, p.opts.MinRows)
	}
	if rainy == 0 || rainy == len(x) {
		return nil, fmt.Errorf("%w: batch needs both rainy and dry rows, got %d of %d rainy",
			ErrInsufficientData, rainy, len(x))
	}

	trainIdx, holdoutIdx := splitIndices(len(x), p.opts.HoldoutFraction, p.opts.Seed)
	trainX, trainY := pick(x, y, trainIdx)
	holdoutX, holdoutY := pick(x, y, holdoutIdx)

	m := fitLogistic(trainX, trainY, fitParams{
		learningRate: p.opts.LearningRate,
		iterations:   p.opts.Iterations,
		l2:           p.opts.L2,
	})

	report.RunID = uuid.NewString()
	report.TrainedAt = time.Now().UTC()
	report.TrainRows = len(trainX)
	report.Holdout = evaluate(m, holdoutX, holdoutY)

	a := &Artifact{
		SchemaVersion: SchemaVersion,
		FeatureNames:  append([]string(nil), FeatureNames...),
		RunID:         report.RunID,
		TrainedAt:     report.TrainedAt,
		Rows:          report.TrainRows,
		Weights:       m.weights,
		Bias:          m.bias,
		Means:         m.means,
		Scales:        m.scales,
		Holdout:       report.Holdout,
	}

	if err := saveArtifact(p.opts.ArtifactPath, a); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.model = a
	p.mu.Unlock()

	return report, nil
}

func pick(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	px := make([][]float64, len(idx))
	py := make([]float64, len(idx))
	for i, j := range idx {
		px[i] = x[j]
		py[i] = y[j]
	}
	return px, py
}
