package world

// WorldMetrics is a read-only snapshot published by Update and read from
// HTTP handlers and tests.
type WorldMetrics struct {
	Frame uint64 `json:"frame"`
	Theme string `json:"theme"`
	Seed  int64  `json:"seed"`
	View  [3]int `json:"view"`

	Resident  int `json:"resident_chunks"`
	Dirty     int `json:"dirty_chunks"`
	Meshed    int `json:"meshed_chunks"`
	Materials int `json:"materials"`

	GeneratedTotal uint64 `json:"generated_total"`
	EvictedTotal   uint64 `json:"evicted_total"`
	RebuildsTotal  uint64 `json:"rebuilds_total"`
	EditsTotal     uint64 `json:"edits_total"`

	StepMS float64 `json:"step_ms"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m, ok := w.metrics.Load().(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
