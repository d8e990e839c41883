// Package raft implements the replica core of a replicated key-value store:
// leader election, log replication, commit advancement, and client request
// handling, run as a single-threaded cooperative event loop per replica.
//
// The package never touches a socket; it depends only on the transport.
// Transport interface, so it can run against a real UDP fabric or an
// in-process fake for tests.
package raft

import (
	"math/rand"
	"time"

	"github.com/kimberlypn/CS3700/metrics"
	"github.com/kimberlypn/CS3700/transport"
	"github.com/rs/zerolog"
)

// State is one of Follower, Candidate, or Leader.
type State string

const (
	Follower  State = "follower"
	Candidate State = "candidate"
	Leader    State = "leader"
)

// BatchCap is the maximum number of entries sent in one AppendEntries.
const BatchCap = 100

// Timing parameters governing elections and replication. These are vars,
// not consts, so tests can shrink them (see SetTestTimings) instead of
// waiting out production-scale timers.
var (
	HeartbeatInterval = 125 * time.Millisecond
	SendFreq          = 25 * time.Millisecond

	ElectionTimeoutUnknownLeaderMin = 50 * time.Millisecond
	ElectionTimeoutUnknownLeaderMax = 100 * time.Millisecond
	ElectionTimeoutKnownLeaderMin   = 250 * time.Millisecond
	ElectionTimeoutKnownLeaderMax   = 400 * time.Millisecond

	ClientBufferFailAfter = 5 * HeartbeatInterval // 625ms
	PendingReadStaleAfter = 3 * HeartbeatInterval  // 375ms
	ReceiveTimeout        = 50 * time.Millisecond
)

// SetTestTimings scales every timing parameter by factor (e.g. 0.1 for a
// 10x-faster test cluster) and returns a func that restores the previous
// values. Intended for test use only.
func SetTestTimings(factor float64) (restore func()) {
	old := []*time.Duration{
		&HeartbeatInterval, &SendFreq,
		&ElectionTimeoutUnknownLeaderMin, &ElectionTimeoutUnknownLeaderMax,
		&ElectionTimeoutKnownLeaderMin, &ElectionTimeoutKnownLeaderMax,
		&ClientBufferFailAfter, &PendingReadStaleAfter, &ReceiveTimeout,
	}
	saved := make([]time.Duration, len(old))
	for i, p := range old {
		saved[i] = *p
		*p = time.Duration(float64(*p) * factor)
	}
	return func() {
		for i, p := range old {
			*p = saved[i]
		}
	}
}

// pendingRead is an outstanding get awaiting commit confirmation.
type pendingRead struct {
	commitIdxAtReceipt uint64
	msg                transport.Message
	receiptTime        time.Time
}

// Replica is the single owned aggregate of everything one cluster member
// needs: its persistent-style fields (current_term, voted_for, log), its
// volatile fields (commit_idx, last_applied, state, leader), and, while
// Leader, the per-peer replication bookkeeping and pending client work.
// There is no process-wide state; every field a replica needs lives here.
type Replica struct {
	id    string
	peers []string

	// Persistent-style: survives state transitions, in-memory here.
	currentTerm uint64
	votedFor    string // "" means null
	log         *Log

	// Volatile.
	commitIdx   uint64
	lastApplied uint64
	state       State
	leader      string // believed leader, transport.Broadcast if unknown

	store *store

	// Volatile, Leader-only.
	nextIndex    map[string]uint64
	matchIndex   map[string]uint64
	votes        map[string]bool
	lastSend     map[string]time.Time // per-peer SEND_FREQ throttle
	pendingReads []pendingRead

	lastHeartbeat time.Time

	// buffered holds client requests received while not Leader; a Leader
	// serves requests as they arrive.
	buffered        *midBuffer
	lastBufferFlush time.Time

	electionDeadline time.Time

	transport transport.Transport
	rng       *rand.Rand
	log_      zerolog.Logger // named log_ to avoid colliding with the *Log field
	metrics   *metrics.Set

	now func() time.Time // overridable for tests
}

// New constructs a Follower replica. rngSeed lets tests reproduce a specific
// sequence of randomized election timeouts.
func New(id string, peers []string, t transport.Transport, logger zerolog.Logger, m *metrics.Set, rngSeed int64) *Replica {
	r := &Replica{
		id:              id,
		peers:           append([]string(nil), peers...),
		currentTerm:     0,
		votedFor:        "",
		log:             NewLog(),
		commitIdx:       0,
		lastApplied:     0,
		state:           Follower,
		leader:          transport.Broadcast,
		store:           newStore(),
		buffered:        newMIDBuffer(),
		transport:       t,
		rng:             rand.New(rand.NewSource(rngSeed)),
		log_:            logger,
		metrics:         m,
		now:             time.Now,
	}
	r.lastBufferFlush = r.now()
	r.resetElectionTimeout()
	r.publishMetrics()
	return r
}

// ID returns this replica's 4-hex-digit identifier.
func (r *Replica) ID() string { return r.id }

// State returns the current Follower/Candidate/Leader state.
func (r *Replica) State() State { return r.state }

// quorum is the strict majority of the full cluster (N = len(peers)+1,
// including self): ceil((N+1)/2).
func (r *Replica) quorum() int {
	n := len(r.peers) + 1
	return (n + 2) / 2
}

// Run executes the event loop forever: manage buffered clients, fail stale
// reads, leader sends, leader heartbeats, election timeout, apply committed
// entries, then a single bounded receive-and-dispatch.
func (r *Replica) Run() {
	for {
		r.Tick()
	}
}

// Tick runs exactly one iteration of the event loop. Exported so tests and
// the metrics-aware CLI wrapper can single-step a replica.
func (r *Replica) Tick() {
	r.manageBufferedClients()
	r.failStalePendingReads()

	if r.state == Leader {
		r.sendCatchUpAppendEntries()
		r.sendHeartbeatIfDue()
	} else if r.electionTimedOut() {
		r.becomeCandidate()
	}

	r.applyCommitted()

	if msg, ok, err := r.transport.Recv(ReceiveTimeout); err != nil {
		r.log_.Warn().Err(err).Msg("transport receive failed")
	} else if ok {
		r.dispatch(msg)
	}
}

// dispatch routes an inbound message by type, stepping down to Follower
// first if it carries a newer term: a message with term > current_term
// transitions this replica to Follower before it is otherwise handled.
func (r *Replica) dispatch(msg transport.Message) {
	if msg.Term > r.currentTerm {
		r.becomeFollower(msg.Term, msg.Leader)
	}

	switch msg.Type {
	case transport.TypeGet, transport.TypePut:
		r.handleClientRequest(msg)
	case transport.TypeRequestVote:
		r.handleRequestVote(msg)
	case transport.TypeResponseVote:
		r.handleResponseVote(msg)
	case transport.TypeAppendEntries:
		r.handleAppendEntries(msg)
	case transport.TypeOK, transport.TypeFail:
		r.handleAppendEntriesReply(msg)
	default:
		r.log_.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

func (r *Replica) resetElectionTimeout() {
	min, max := ElectionTimeoutKnownLeaderMin, ElectionTimeoutKnownLeaderMax
	if r.leader == transport.Broadcast {
		min, max = ElectionTimeoutUnknownLeaderMin, ElectionTimeoutUnknownLeaderMax
	}
	d := min + time.Duration(r.rng.Int63n(int64(max-min)+1))
	r.electionDeadline = r.now().Add(d)
}

func (r *Replica) electionTimedOut() bool {
	return !r.now().Before(r.electionDeadline)
}

func (r *Replica) send(msg transport.Message) {
	msg.Src = r.id
	msg.Leader = r.leader
	msg.Term = r.currentTerm
	if err := r.transport.Send(msg); err != nil {
		r.log_.Warn().Err(err).Str("dst", msg.Dst).Str("type", msg.Type).Msg("send failed")
	}
}

func (r *Replica) publishMetrics() {
	r.metrics.SetTerm(r.currentTerm)
	switch r.state {
	case Follower:
		r.metrics.SetState(metrics.StateFollower)
	case Candidate:
		r.metrics.SetState(metrics.StateCandidate)
	case Leader:
		r.metrics.SetState(metrics.StateLeader)
	}
	r.metrics.SetCommitIndex(r.commitIdx)
	r.metrics.SetLastApplied(r.lastApplied)
	r.metrics.SetLogLength(int(r.log.LastIndex()) + 1)
}
