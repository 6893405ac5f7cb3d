// Package metrics keeps in-process cache effectiveness counters and latency
// sketches. Nothing is exported to an external system; the snapshot is served
// by the diagnostics endpoint and logged on shutdown.
package metrics

import (
	"sync"
	"time"
)

// Recorder 汇总各结果（hit/miss/backfilled/...）的计数与各操作耗时，可并发使用。
type Recorder struct {
	mu       sync.Mutex
	outcomes map[string]int64
	latency  *LatencyTracker
	started  time.Time
}

// NewRecorder 创建 Recorder，延迟分位数精度为 1%。
func NewRecorder() *Recorder {
	return &Recorder{
		outcomes: make(map[string]int64),
		latency:  NewLatencyTracker(0.01),
		started:  time.Now(),
	}
}

// ObserveOutcome 将 outcome 计数加一。nil Recorder 安全。
func (r *Recorder) ObserveOutcome(outcome string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.outcomes[outcome]++
	r.mu.Unlock()
}

// ObserveLatency 记录 operation 的一次耗时。nil Recorder 安全。
func (r *Recorder) ObserveLatency(operation string, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.Record(operation, d)
}

// Outcome 返回某个结果的当前计数。
func (r *Recorder) Outcome(outcome string) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

// Snapshot 是某一时刻的指标快照，可直接序列化为 JSON。
type Snapshot struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	Outcomes      map[string]int64 `json:"outcomes"`
	HitRatio      float64          `json:"hit_ratio"`
	Latency       []Stats          `json:"latency"`
}

// Snapshot 拷贝当前计数；HitRatio = hit / (hit + miss)。
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{Outcomes: map[string]int64{}}
	}
	r.mu.Lock()
	outcomes := make(map[string]int64, len(r.outcomes))
	for k, v := range r.outcomes {
		outcomes[k] = v
	}
	r.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(r.started).Seconds(),
		Outcomes:      outcomes,
		Latency:       r.latency.GetAllStats(),
	}
	lookups := outcomes["hit"] + outcomes["miss"]
	if lookups > 0 {
		snap.HitRatio = float64(outcomes["hit"]) / float64(lookups)
	}
	return snap
}
