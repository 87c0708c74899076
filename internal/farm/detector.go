package farm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/agricare/pkg/schema"
)

// Diseases the simulated classifier can report.
var Diseases = []string{"Leaf Spot", "Powdery Mildew", "Rust", "Bacterial Blight"}

var treatments = map[string][]string{
	"Leaf Spot":        {"Remove affected leaves", "Apply a copper-based fungicide", "Avoid overhead watering"},
	"Powdery Mildew":   {"Improve air circulation", "Apply sulfur or potassium bicarbonate spray"},
	"Rust":             {"Remove infected plant debris", "Apply a triazole fungicide", "Plant resistant varieties next season"},
	"Bacterial Blight": {"Use certified disease-free seed", "Apply copper bactericide", "Rotate crops"},
}

// Diagnosis is the outcome of one analysis.
type Diagnosis struct {
	Healthy    bool    `json:"healthy"`
	Disease    string  `json:"disease,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Detector simulates an image classifier: half of all analyses come back
// healthy with 95-100% confidence, the rest name a disease with 70-90%.
type Detector struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	delay time.Duration
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithRand sets the random source, for deterministic tests.
func WithRand(r *rand.Rand) DetectorOption {
	return func(d *Detector) {
		if r != nil {
			d.rnd = r
		}
	}
}

// WithDelay sets how long an analysis takes.
func WithDelay(delay time.Duration) DetectorOption {
	return func(d *Detector) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// NewDetector returns a Detector with a two second analysis time.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		delay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze classifies a crop. It returns early with ctx.Err() when ctx ends
// before the analysis completes.
func (d *Detector) Analyze(ctx context.Context, cropType string) (Diagnosis, error) {
	if strings.TrimSpace(cropType) == "" {
		return Diagnosis{}, fmt.Errorf("crop type is required")
	}

	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Diagnosis{}, ctx.Err()
		case <-timer.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rnd.Float64() > 0.5 {
		return Diagnosis{Healthy: true, Confidence: 95 + d.rnd.Float64()*5}, nil
	}
	return Diagnosis{
		Disease:    Diseases[d.rnd.IntN(len(Diseases))],
		Confidence: 70 + d.rnd.Float64()*20,
	}, nil
}

// Detection turns a diagnosis into a record ready to be stored for userID.
func (g Diagnosis) Detection(cropType, userID string) schema.DiseaseDetection {
	det := schema.DiseaseDetection{
		Meta:       schema.Meta{UserID: userID},
		CropType:   cropType,
		Confidence: g.Confidence,
		Status:     schema.DetectionIdentified,
	}
	if g.Healthy {
		det.DiseaseIdentified = "Healthy"
		return det
	}
	det.DiseaseIdentified = g.Disease
	det.Recommendations = append([]string(nil), treatments[g.Disease]...)
	return det
}
