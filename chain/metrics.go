package chain

import "sync"

// StepMetrics aggregates outcomes for one step across executions.
// Latency is a running mean over successful attempts.
type StepMetrics struct {
	Executions    int64   `json:"executions"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	Attempts      int64   `json:"attempts"`
	Retries       int64   `json:"retries"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	latencySample int64
}

// ChainMetrics aggregates outcomes for one chain
type ChainMetrics struct {
	Executions int64                   `json:"executions"`
	Successes  int64                   `json:"successes"`
	Failures   int64                   `json:"failures"`
	Steps      map[string]*StepMetrics `json:"steps"`
}

// metricsRegistry collects per-chain metrics. Updated once per chain
// execution, not per attempt.
type metricsRegistry struct {
	mu     sync.Mutex
	chains map[string]*ChainMetrics
}

func newMetricsRegistry() *metricsRegistry {
	return &metricsRegistry{chains: make(map[string]*ChainMetrics)}
}

func (m *metricsRegistry) record(chainID string, result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.chains[chainID]
	if !ok {
		cm = &ChainMetrics{Steps: make(map[string]*StepMetrics)}
		m.chains[chainID] = cm
	}
	cm.Executions++
	if result.Success {
		cm.Successes++
	} else {
		cm.Failures++
	}

	for _, sr := range result.StepResults {
		key := sr.StepName
		if key == "" {
			key = sr.ModelID
		}
		sm, ok := cm.Steps[key]
		if !ok {
			sm = &StepMetrics{}
			cm.Steps[key] = sm
		}
		sm.Executions++
		sm.Attempts += int64(sr.Attempts)
		if sr.Attempts > 1 {
			sm.Retries += int64(sr.Attempts - 1)
		}
		if sr.Success {
			sm.Successes++
			sm.latencySample++
			// running mean: recover the numerator, add the sample, divide
			total := sm.AvgLatencyMs*float64(sm.latencySample-1) + float64(sr.LatencyMs)
			sm.AvgLatencyMs = total / float64(sm.latencySample)
		} else if sr.Attempts > 0 {
			sm.Failures++
		}
	}
}

// snapshot deep-copies the metrics for external consumers
func (m *metricsRegistry) snapshot() map[string]ChainMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ChainMetrics, len(m.chains))
	for id, cm := range m.chains {
		copied := ChainMetrics{
			Executions: cm.Executions,
			Successes:  cm.Successes,
			Failures:   cm.Failures,
			Steps:      make(map[string]*StepMetrics, len(cm.Steps)),
		}
		for name, sm := range cm.Steps {
			stepCopy := *sm
			copied.Steps[name] = &stepCopy
		}
		out[id] = copied
	}
	return out
}
