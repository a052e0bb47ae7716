package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bonder"

// Metrics groups the collectors of the node. A nil *Metrics records nothing.
type Metrics struct {
	chainTip         *prometheus.GaugeVec
	safeBlock        *prometheus.GaugeVec
	indexedEvents    *prometheus.CounterVec
	syncedBlock      *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	txSubmitted      *prometheus.CounterVec
	txBoosted        *prometheus.CounterVec
	txConfirmed      *prometheus.CounterVec
	txStuck          *prometheus.CounterVec
	attestationFetch *prometheus.CounterVec
	alerts           *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		chainTip: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "chain_tip", Help: "Latest observed block number.",
		}, []string{"chain"}),
		safeBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "safe_block", Help: "Latest applied safe block number.",
		}, []string{"chain"}),
		indexedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "indexed_events_total", Help: "Newly stored events.",
		}, []string{"chain", "topic"}),
		syncedBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "indexer_synced_block", Help: "Last block covered by the indexer.",
		}, []string{"chain", "topic"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_transitions_total", Help: "Message state transitions by target state.",
		}, []string{"state"}),
		txSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_submitted_total", Help: "Submitted transactions.",
		}, []string{"chain"}),
		txBoosted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_boosted_total", Help: "Fee boosts.",
		}, []string{"chain"}),
		txConfirmed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_confirmed_total", Help: "Confirmed transactions by receipt status.",
		}, []string{"chain", "status"}),
		txStuck: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_stuck_total", Help: "Transactions that reached the boost ceiling.",
		}, []string{"chain"}),
		attestationFetch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "attestation_fetch_total", Help: "Attestation API lookups by result.",
		}, []string{"result"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total", Help: "Alerts raised by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

func (m *Metrics) SetChainTip(chainID uint64, tip uint64) {
	if m == nil {
		return
	}
	m.chainTip.WithLabelValues(chainLabel(chainID)).Set(float64(tip))
}

func (m *Metrics) SetSafeBlock(chainID uint64, block uint64) {
	if m == nil {
		return
	}
	m.safeBlock.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

func (m *Metrics) AddIndexedEvents(chainID uint64, topic string, n int) {
	if m == nil {
		return
	}
	m.indexedEvents.WithLabelValues(chainLabel(chainID), topic).Add(float64(n))
}

func (m *Metrics) SetSyncedBlock(chainID uint64, topic string, block uint64) {
	if m == nil {
		return
	}
	m.syncedBlock.WithLabelValues(chainLabel(chainID), topic).Set(float64(block))
}

func (m *Metrics) IncTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) IncTxSubmitted(chainID uint64) {
	if m == nil {
		return
	}
	m.txSubmitted.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *Metrics) IncTxBoosted(chainID uint64) {
	if m == nil {
		return
	}
	m.txBoosted.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *Metrics) IncTxConfirmed(chainID uint64, status string) {
	if m == nil {
		return
	}
	m.txConfirmed.WithLabelValues(chainLabel(chainID), status).Inc()
}

func (m *Metrics) IncTxStuck(chainID uint64) {
	if m == nil {
		return
	}
	m.txStuck.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *Metrics) IncAttestationFetch(result string) {
	if m == nil {
		return
	}
	m.attestationFetch.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAlert(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}
