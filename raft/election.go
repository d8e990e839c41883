package raft

import (
	"time"

	"github.com/kimberlypn/CS3700/transport"
)

//                                  times out,
//                                 new election
//     |                             .-----.
//     |                             |     |
//     v         times out,          |     v     receives votes from
// +----------+  starts election  +-----------+  majority of servers  +--------+
// | Follower |------------------>| Candidate |---------------------->| Leader |
// +----------+                   +-----------+                       +--------+
//     ^ ^                              |                                 |
//     | |    discovers current leader  |                                 |
//     | |                 or new term  |                                 |
//     | '------------------------------'                                 |
//     |                                                                  |
//     |                               discovers server with higher term  |
//     '------------------------------------------------------------------'

// becomeCandidate transitions Follower -> Candidate on election timeout.
func (r *Replica) becomeCandidate() {
	r.currentTerm++
	r.votedFor = r.id
	r.votes = map[string]bool{r.id: true}
	r.leader = transport.Broadcast
	r.state = Candidate
	r.resetElectionTimeout()
	r.metrics.IncElectionsStarted()
	r.publishMetrics()

	r.log_.Info().Uint64("term", r.currentTerm).Msg("election timeout, becoming candidate")

	if len(r.votes) >= r.quorum() {
		// Single-node (or already-satisfied) cluster: no peers to wait on.
		r.becomeLeader()
		return
	}

	r.send(transport.Message{
		Dst:         transport.Broadcast,
		Type:        transport.TypeRequestVote,
		LastLogIdx:  r.log.LastIndex(),
		LastLogTerm: r.log.LastTerm(),
	})
}

// becomeLeader transitions Candidate -> Leader once a quorum of votes is in.
func (r *Replica) becomeLeader() {
	r.state = Leader
	r.leader = r.id
	r.nextIndex = make(map[string]uint64, len(r.peers))
	r.matchIndex = make(map[string]uint64, len(r.peers))
	r.lastSend = make(map[string]time.Time, len(r.peers))
	for _, p := range r.peers {
		r.nextIndex[p] = r.commitIdx + 1
		r.matchIndex[p] = 0
	}
	r.lastHeartbeat = r.now()
	r.publishMetrics()

	r.log_.Info().Uint64("term", r.currentTerm).Msg("won election, becoming leader")
	r.broadcastAppendEntries()
}

// becomeFollower transitions any state -> Follower whenever a message
// carries term > current_term, or a valid AppendEntries arrives at
// term >= current_term. leaderHint is the sender's believed leader, used to
// update r.leader when the message names one. voted_for is cleared only
// when current_term actually increases: an AppendEntries at the same term
// that merely confirms an already-known leader must not erase a vote this
// replica already cast in that term.
func (r *Replica) becomeFollower(term uint64, leaderHint string) {
	wasLeader := r.state == Leader

	if term > r.currentTerm {
		r.votedFor = ""
	}
	r.currentTerm = term
	if leaderHint != "" && leaderHint != transport.Broadcast {
		r.leader = leaderHint
	} else if r.state != Follower {
		r.leader = transport.Broadcast
	}
	r.state = Follower
	r.resetElectionTimeout()
	r.publishMetrics()

	if wasLeader {
		r.failOutstandingLeaderWork()
	}
}

// failOutstandingLeaderWork runs when stepping down from Leader: every
// uncommitted client-request entry and every outstanding pending read gets a
// fail reply, per the Leader -> Follower exit behavior.
func (r *Replica) failOutstandingLeaderWork() {
	for i := r.commitIdx + 1; i <= r.log.LastIndex(); i++ {
		e, ok := r.log.Entry(i)
		if !ok || e.Command != CommandPut {
			continue
		}
		r.send(transport.Message{Dst: e.Src, Type: transport.TypeFail, MID: e.MID})
		r.metrics.IncClientRequest("fail")
	}
	for _, pr := range r.pendingReads {
		r.send(transport.Message{Dst: pr.msg.Src, Type: transport.TypeFail, MID: pr.msg.MID})
		r.metrics.IncClientRequest("fail")
	}
	r.pendingReads = nil
}

// handleRequestVote implements the RequestVote receiver rules.
func (r *Replica) handleRequestVote(msg transport.Message) {
	granted := false

	logOK := msg.LastLogTerm > r.log.LastTerm() ||
		(msg.LastLogTerm == r.log.LastTerm() && msg.LastLogIdx >= r.log.LastIndex())

	if msg.Term >= r.currentTerm &&
		(r.votedFor == "" || r.votedFor == msg.Src) &&
		logOK {
		granted = true
		r.votedFor = msg.Src
		r.resetElectionTimeout()
	}

	reply := transport.Message{Dst: msg.Src, Type: transport.TypeResponseVote}
	reply.SetValueBool(granted)
	r.send(reply)
}

// handleResponseVote tallies a RequestVote reply. Only affirmative replies
// count, and only while still Candidate in the same term the vote was
// requested for.
func (r *Replica) handleResponseVote(msg transport.Message) {
	if r.state != Candidate || msg.Term != r.currentTerm || !msg.ValueBool() {
		return
	}
	r.votes[msg.Src] = true
	if len(r.votes) >= r.quorum() {
		r.becomeLeader()
	}
}
