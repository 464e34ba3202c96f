package dispatcher

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/VictoriaMetrics/metrics"
)

// dispatcherMetrics exports request counters, latency histograms and pool
// gauges of one dispatcher in Prometheus format
type dispatcherMetrics struct {
	set *metrics.Set
}

func newDispatcherMetrics(d *Dispatcher) *dispatcherMetrics {
	set := metrics.NewSet()

	set.NewGauge("aibroker_engines", func() float64 {
		return float64(len(d.manager.Engines()))
	})
	set.NewGauge("aibroker_transactions", func() float64 {
		return float64(len(d.manager.Transactions()))
	})
	set.NewGauge("aibroker_threads_busy", func() float64 {
		return float64(d.threads.Busy())
	})
	set.NewGauge("aibroker_threads_idle", func() float64 {
		return float64(d.threads.Idle())
	})
	set.NewGauge("aibroker_futures_pending", func() float64 {
		return float64(d.futures.Pending())
	})

	return &dispatcherMetrics{set: set}
}

// execute records one SyncExecute or AsyncExecute call
func (m *dispatcherMetrics) execute(mode string, start time.Time, err error) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`aibroker_requests_total{mode=%q,code=%q}`, mode, core.CodeOf(err))).Inc()
	m.set.GetOrCreateHistogram(fmt.Sprintf(`aibroker_request_duration_seconds{mode=%q}`, mode)).UpdateDuration(start)
}

// lifecycle records one StartEngine or StopEngine call
func (m *dispatcherMetrics) lifecycle(op string, err error) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`aibroker_engine_ops_total{op=%q,code=%q}`, op, core.CodeOf(err))).Inc()
}
