package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// stageTargetP95MS is the per-stage latency budget surfaced next to the
// measured quantiles so dashboards can compare without hardcoding it.
var stageTargetP95MS = map[string]float64{
	"llm_complete": 4000,
	"synth_remote": 8000,
	"synth_local":  600000,
	"turn_total":   6000,
}

type PipelineStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type PipelineIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type PipelineSnapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	WindowSize  int                  `json:"window_size"`
	Stages      []PipelineStageStats `json:"stages"`
	Indicators  []PipelineIndicator  `json:"indicators,omitempty"`
}

// pipelineWindow keeps the most recent size latency samples per stage plus
// counters for one-off events (fallbacks, retries). Metrics owns the only
// instance; nil-receiver handling lives there.
type pipelineWindow struct {
	mu         sync.Mutex
	size       int
	stages     map[string]*stageRing
	indicators map[string]int
}

type stageRing struct {
	samples []float64
	seen    int
	last    float64
}

func newPipelineWindow(size int) *pipelineWindow {
	if size <= 0 {
		size = 256
	}
	return &pipelineWindow{
		size:       size,
		stages:     make(map[string]*stageRing),
		indicators: make(map[string]int),
	}
}

func (w *pipelineWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.stages[stage]
	if !ok {
		r = &stageRing{samples: make([]float64, 0, w.size)}
		w.stages[stage] = r
	}
	if len(r.samples) < w.size {
		r.samples = append(r.samples, ms)
	} else {
		r.samples[r.seen%w.size] = ms
	}
	r.seen++
	r.last = ms
}

func (w *pipelineWindow) ObserveIndicator(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *pipelineWindow) Snapshot() PipelineSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := PipelineSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]PipelineStageStats, 0, len(w.stages)),
	}

	stageNames := make([]string, 0, len(w.stages))
	for name := range w.stages {
		stageNames = append(stageNames, name)
	}
	sort.Strings(stageNames)
	for _, name := range stageNames {
		r := w.stages[name]
		sorted := append([]float64(nil), r.samples...)
		sort.Float64s(sorted)
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		snap.Stages = append(snap.Stages, PipelineStageStats{
			Stage:       name,
			Samples:     len(sorted),
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(len(sorted))),
			P50MS:       round2(nearestRank(sorted, 0.50)),
			P95MS:       round2(nearestRank(sorted, 0.95)),
			TargetP95MS: stageTargetP95MS[name],
		})
	}

	indicatorNames := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorNames = append(indicatorNames, name)
	}
	sort.Strings(indicatorNames)
	for _, name := range indicatorNames {
		snap.Indicators = append(snap.Indicators, PipelineIndicator{
			Name:  name,
			Count: w.indicators[name],
		})
	}
	return snap
}

// nearestRank returns the q-quantile of an ascending sample set using the
// nearest-rank method.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Ceil(q*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
