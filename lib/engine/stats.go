package engine

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/rcrowley/go-metrics"
)

// stats are the per engine counters and latency samples. They are registered
// in the manager's registry under "<algorithm>@v<version>.<name>" while the
// engine exists.
type stats struct {
	submitted metrics.Counter
	rejected  metrics.Counter
	processed metrics.Counter
	failed    metrics.Counter
	timeouts  metrics.Counter

	wait    metrics.Histogram // microseconds between enqueue and dequeue
	process metrics.Histogram // microseconds spent in the plugin
	payload metrics.Histogram // request payload size in bytes
}

func newStats() *stats {
	sample := func() metrics.Sample { return metrics.NewExpDecaySample(1028, 0.015) }
	return &stats{
		submitted: metrics.NewCounter(),
		rejected:  metrics.NewCounter(),
		processed: metrics.NewCounter(),
		failed:    metrics.NewCounter(),
		timeouts:  metrics.NewCounter(),
		wait:      metrics.NewHistogram(sample()),
		process:   metrics.NewHistogram(sample()),
		payload:   metrics.NewHistogram(sample()),
	}
}

func (s *stats) each(fn func(name string, metric any)) {
	fn("submitted", s.submitted)
	fn("rejected", s.rejected)
	fn("processed", s.processed)
	fn("failed", s.failed)
	fn("timeouts", s.timeouts)
	fn("wait_us", s.wait)
	fn("process_us", s.process)
	fn("payload_bytes", s.payload)
}

func (s *stats) register(registry metrics.Registry, key core.EngineKey) {
	s.each(func(name string, metric any) {
		if err := registry.Register(fmt.Sprintf("%s.%s", key, name), metric); err != nil {
			Logger.Warningf("failed to register metric %s of %s: %v", name, key, err)
		}
	})
}

func (s *stats) unregister(registry metrics.Registry, key core.EngineKey) {
	s.each(func(name string, _ any) {
		registry.Unregister(fmt.Sprintf("%s.%s", key, name))
	})
}

// EngineStats is a point in time snapshot of one engine
type EngineStats struct {
	Key       core.EngineKey   `json:"key"`
	Mode      plugin.InferMode `json:"mode"`
	State     string           `json:"state"`
	RefCount  int              `json:"refCount"`
	ThreadID  uint64           `json:"threadId"`
	QueueLen  int              `json:"queueLen"`
	QueueCap  int              `json:"queueCap"`
	Submitted int64            `json:"submitted"`
	Rejected  int64            `json:"rejected"`
	Processed int64            `json:"processed"`
	Failed    int64            `json:"failed"`
	Timeouts  int64            `json:"timeouts"`

	MeanWait    time.Duration `json:"meanWait"`
	MeanProcess time.Duration `json:"meanProcess"`
	P99Process  time.Duration `json:"p99Process"`
	MeanPayload float64       `json:"meanPayload"`
	MaxPayload  int64         `json:"maxPayload"`
	Uptime      time.Duration `json:"uptime"`
}

func (s *stats) snapshot(into *EngineStats) {
	into.Submitted = s.submitted.Count()
	into.Rejected = s.rejected.Count()
	into.Processed = s.processed.Count()
	into.Failed = s.failed.Count()
	into.Timeouts = s.timeouts.Count()

	wait := s.wait.Snapshot()
	process := s.process.Snapshot()
	payload := s.payload.Snapshot()
	into.MeanWait = time.Duration(wait.Mean()) * time.Microsecond
	into.MeanProcess = time.Duration(process.Mean()) * time.Microsecond
	into.P99Process = time.Duration(process.Percentile(0.99)) * time.Microsecond
	into.MeanPayload = payload.Mean()
	into.MaxPayload = payload.Max()
}
