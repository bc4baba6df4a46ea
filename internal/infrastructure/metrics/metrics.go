// Package metrics exports transaction statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labcontrol/internal/core/tx"
)

const namespace = "labcontrol"

// Ensure interface compliance
var _ tx.Observer = (*TxObserver)(nil)

// TxObserver implements tx.Observer with Prometheus collectors.
// One TxObserver is shared by every Transaction of the process.
type TxObserver struct {
	commits    prometheus.Counter
	rollbacks  prometheus.Counter
	statements prometheus.Counter
	failures   prometheus.Counter
	execute    prometheus.Histogram
}

// NewTxObserver creates the collectors and registers them with reg.
func NewTxObserver(reg prometheus.Registerer) (*TxObserver, error) {
	o := &TxObserver{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "commits_total",
			Help:      "Physical transaction commits.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "rollbacks_total",
			Help:      "Physical transaction rollbacks.",
		}),
		statements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "statements_total",
			Help:      "Statements sent to the database.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "statement_failures_total",
			Help:      "Executions aborted by a failing statement.",
		}),
		execute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "execute_seconds",
			Help:      "Wall time of one Execute call, all round trips included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
	}

	for _, c := range []prometheus.Collector{o.commits, o.rollbacks, o.statements, o.failures, o.execute} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *TxObserver) StatementsExecuted(n int, elapsed time.Duration) {
	o.statements.Add(float64(n))
	o.execute.Observe(elapsed.Seconds())
}

func (o *TxObserver) StatementFailed() { o.failures.Inc() }
func (o *TxObserver) Committed()       { o.commits.Inc() }
func (o *TxObserver) RolledBack()      { o.rollbacks.Inc() }

// ConnSource reports connection counts of a database backend.
type ConnSource interface {
	ConnStats() (open, inUse, idle int)
}

// RegisterConnStats exports the connection counts of src as gauges read at
// scrape time.
func RegisterConnStats(reg prometheus.Registerer, src ConnSource) error {
	gauge := func(name, help string, pick func(open, inUse, idle int) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(src.ConnStats()))
		})
	}

	for _, c := range []prometheus.Collector{
		gauge("connections_open", "Open database connections.", func(open, _, _ int) int { return open }),
		gauge("connections_in_use", "Connections held by a Transaction.", func(_, inUse, _ int) int { return inUse }),
		gauge("connections_idle", "Idle database connections.", func(_, _, idle int) int { return idle }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
