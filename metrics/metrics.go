// Package metrics exposes settlement activity as Prometheus series. The
// collector is fed entirely from chain events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
)

const namespace = "tolsettle"

// Collector holds the chain's counters and gauges.
type Collector struct {
	blockHeight prometheus.Gauge
	txs         *prometheus.CounterVec
	sessions    *prometheus.CounterVec
	rewards     *prometheus.CounterVec
	disputes    *prometheus.CounterVec
}

// New registers the collector's series with reg and subscribes to emitter.
func New(reg prometheus.Registerer, emitter *events.Emitter) *Collector {
	c := &Collector{
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "block_height",
			Help:      "Height of the last committed block.",
		}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "transactions_total",
			Help:      "Executed transactions segmented by type and result code.",
		}, []string{"type", "code"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "sessions_total",
			Help:      "Session transitions segmented by event.",
		}, []string{"event"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "rewards_total",
			Help:      "Reward escrow actions segmented by action.",
		}, []string{"action"}),
		disputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "disputes_total",
			Help:      "Disputes segmented by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.blockHeight, c.txs, c.sessions, c.rewards, c.disputes)

	emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) {
		c.blockHeight.Set(float64(ev.BlockHeight))
	})
	emitter.Subscribe(events.EventTxExecuted, c.onTx)
	emitter.Subscribe(events.EventTxFailed, c.onTx)
	emitter.Subscribe(events.EventSessionStarted, c.count(c.sessions, "started"))
	emitter.Subscribe(events.EventSessionFinalized, c.count(c.sessions, "finalized"))
	emitter.Subscribe(events.EventRewardSetup, c.count(c.rewards, "setup"))
	emitter.Subscribe(events.EventRewardClaimed, c.count(c.rewards, "claimed"))
	emitter.Subscribe(events.EventRewardVoided, c.count(c.rewards, "voided"))
	emitter.Subscribe(events.EventDisputeOpened, c.count(c.disputes, "opened"))
	emitter.Subscribe(events.EventDisputeResolved, func(ev events.Event) {
		outcome := "reversed"
		if upheld, _ := ev.Data["upheld"].(bool); upheld {
			outcome = "upheld"
		}
		c.disputes.WithLabelValues(outcome).Inc()
	})
	return c
}

func (c *Collector) onTx(ev events.Event) {
	typ, _ := ev.Data["type"].(string)
	code, _ := ev.Data["code"].(string)
	if code == "" {
		code = core.CodeInternal
	}
	c.txs.WithLabelValues(typ, code).Inc()
}

func (c *Collector) count(vec *prometheus.CounterVec, label string) events.Handler {
	return func(events.Event) { vec.WithLabelValues(label).Inc() }
}
