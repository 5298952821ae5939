package metrics

import (
	"sort"

	"github.com/jackzampolin/takeoff/internal/store"
)

// Summary aggregates usage across a job's batches.
type Summary struct {
	Batches      int `json:"batches"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Pending      int `json:"pending"`
	Processing   int `json:"processing"`
	Retries      int `json:"retries"`
	UsedFallback int `json:"used_fallback"`

	TotalCostUSD          float64 `json:"total_cost_usd"`
	AvgCostUSD            float64 `json:"avg_cost_usd"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
	AvgTotalTokens        float64 `json:"avg_total_tokens"`

	// Latency of the call that produced each completed batch (seconds)
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyAvg float64 `json:"latency_avg"`
	LatencyMin float64 `json:"latency_min"`
	LatencyMax float64 `json:"latency_max"`

	CostByModel    map[string]float64 `json:"cost_by_model"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
	RepairedBy     map[string]int     `json:"repaired_by,omitempty"`
}

// Summarize aggregates the metrics recorded on batches.
func Summarize(batches []*store.Batch) *Summary {
	s := &Summary{
		Batches:        len(batches),
		CostByModel:    make(map[string]float64),
		CostByProvider: make(map[string]float64),
		RepairedBy:     make(map[string]int),
	}

	var latencies []float64
	withUsage := 0
	for _, b := range batches {
		switch b.Status {
		case store.BatchCompleted:
			s.Completed++
		case store.BatchFailed:
			s.Failed++
		case store.BatchPending:
			s.Pending++
		case store.BatchProcessing:
			s.Processing++
		}
		s.Retries += b.RetryCount

		m := b.Metrics
		if m == nil {
			continue
		}
		withUsage++
		if m.UsedFallback {
			s.UsedFallback++
		}
		s.TotalCostUSD += m.EstimatedCostUSD
		s.TotalPromptTokens += m.PromptTokens
		s.TotalCompletionTokens += m.CompletionTokens
		s.TotalTokens += m.TokensUsed
		if m.Model != "" {
			s.CostByModel[m.Model] += m.EstimatedCostUSD
		}
		if m.Provider != "" {
			s.CostByProvider[m.Provider] += m.EstimatedCostUSD
		}
		if m.RepairStrategy != "" {
			s.RepairedBy[m.RepairStrategy]++
		}
		if m.LatencyMS > 0 {
			latencies = append(latencies, float64(m.LatencyMS)/1000)
		}
	}

	if withUsage > 0 {
		s.AvgCostUSD = s.TotalCostUSD / float64(withUsage)
		s.AvgTotalTokens = float64(s.TotalTokens) / float64(withUsage)
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		s.LatencyMin = latencies[0]
		s.LatencyMax = latencies[len(latencies)-1]

		var sum float64
		for _, l := range latencies {
			sum += l
		}
		s.LatencyAvg = sum / float64(len(latencies))
		s.LatencyP50 = percentile(latencies, 50)
		s.LatencyP95 = percentile(latencies, 95)
	}

	return s
}

// percentile calculates the p-th percentile from a sorted slice of values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	n := float64(len(sorted))
	idx := (p / 100.0) * (n - 1)

	// Interpolate between floor and ceil indices
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
