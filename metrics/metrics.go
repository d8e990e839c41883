// Package metrics exposes Prometheus collectors for a replica's protocol
// state. A *Set is optional everywhere it's used: a nil *Set turns every
// method into a no-op, so the raft package carries no hard dependency on
// Prometheus for callers who embed it without metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// State values mirror raft.Follower/Candidate/Leader, duplicated here so
// this package doesn't need to import raft.
const (
	StateFollower  = 0
	StateCandidate = 1
	StateLeader    = 2
)

// Set bundles every collector a replica updates inline with its own state
// transitions.
type Set struct {
	Term                prometheus.Gauge
	State               prometheus.Gauge
	CommitIndex         prometheus.Gauge
	LastApplied         prometheus.Gauge
	LogLength           prometheus.Gauge
	ElectionsStarted    prometheus.Counter
	AppendEntriesSent   *prometheus.CounterVec
	AppendEntriesFailed *prometheus.CounterVec
	ClientRequests      *prometheus.CounterVec
}

// NewSet constructs and registers a Set against reg. Metric names are
// prefixed raft_ and labeled by replica where the label would otherwise be
// ambiguous across a multi-replica test process.
func NewSet(reg prometheus.Registerer, replicaID string) *Set {
	constLabels := prometheus.Labels{"replica": replicaID}

	s := &Set{
		Term: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_term", Help: "Current term.", ConstLabels: constLabels,
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_state", Help: "0=follower 1=candidate 2=leader.", ConstLabels: constLabels,
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_commit_index", Help: "Highest known-committed log index.", ConstLabels: constLabels,
		}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_last_applied", Help: "Highest log index applied to the state machine.", ConstLabels: constLabels,
		}),
		LogLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raft_log_length", Help: "Number of entries in the log, including the sentinel.", ConstLabels: constLabels,
		}),
		ElectionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raft_elections_started_total", Help: "Elections this replica has started.", ConstLabels: constLabels,
		}),
		AppendEntriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raft_append_entries_sent_total", Help: "AppendEntries sent, by peer.", ConstLabels: constLabels,
		}, []string{"peer"}),
		AppendEntriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raft_append_entries_failed_total", Help: "AppendEntries fail replies received, by peer.", ConstLabels: constLabels,
		}, []string{"peer"}),
		ClientRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raft_client_requests_total", Help: "Client get/put requests handled, by result.", ConstLabels: constLabels,
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			s.Term, s.State, s.CommitIndex, s.LastApplied, s.LogLength,
			s.ElectionsStarted, s.AppendEntriesSent, s.AppendEntriesFailed, s.ClientRequests,
		)
	}
	return s
}

func (s *Set) SetTerm(t uint64) {
	if s == nil {
		return
	}
	s.Term.Set(float64(t))
}

func (s *Set) SetState(v int) {
	if s == nil {
		return
	}
	s.State.Set(float64(v))
}

func (s *Set) SetCommitIndex(i uint64) {
	if s == nil {
		return
	}
	s.CommitIndex.Set(float64(i))
}

func (s *Set) SetLastApplied(i uint64) {
	if s == nil {
		return
	}
	s.LastApplied.Set(float64(i))
}

func (s *Set) SetLogLength(n int) {
	if s == nil {
		return
	}
	s.LogLength.Set(float64(n))
}

func (s *Set) IncElectionsStarted() {
	if s == nil {
		return
	}
	s.ElectionsStarted.Inc()
}

func (s *Set) IncAppendEntriesSent(peer string) {
	if s == nil {
		return
	}
	s.AppendEntriesSent.WithLabelValues(peer).Inc()
}

func (s *Set) IncAppendEntriesFailed(peer string) {
	if s == nil {
		return
	}
	s.AppendEntriesFailed.WithLabelValues(peer).Inc()
}

func (s *Set) IncClientRequest(result string) {
	if s == nil {
		return
	}
	s.ClientRequests.WithLabelValues(result).Inc()
}
