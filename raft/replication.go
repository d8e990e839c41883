package raft

import (
	"sort"
	"time"

	"github.com/kimberlypn/CS3700/transport"
)

// buildAppendEntries constructs the AppendEntries this Leader would send to
// peer right now, based on its nextIndex.
func (r *Replica) buildAppendEntries(peer string) transport.Message {
	prevIdx := r.nextIndex[peer] - 1
	prevEntry, _ := r.log.Entry(prevIdx)
	entries := r.log.Slice(prevIdx, prevIdx+BatchCap)

	return transport.Message{
		Dst:          peer,
		Type:         transport.TypeAppendEntries,
		PrevLogIdx:   prevIdx,
		PrevLogTerm:  prevEntry.Term,
		Entries:      entries,
		LeaderCommit: r.commitIdx,
	}
}

// sendCatchUpAppendEntries emits at most one AppendEntries per peer per
// SendFreq, to peers that aren't yet caught up. This path is throttled;
// broadcastAppendEntries (heartbeats) is not.
func (r *Replica) sendCatchUpAppendEntries() {
	for _, p := range r.peers {
		if r.matchIndex[p] >= r.log.LastIndex() {
			continue
		}
		if r.now().Sub(r.lastSend[p]) < SendFreq {
			continue
		}
		r.lastSend[p] = r.now()
		r.send(r.buildAppendEntries(p))
		r.metrics.IncAppendEntriesSent(p)
	}
}

// sendHeartbeatIfDue broadcasts AppendEntries to every peer once
// HeartbeatInterval has elapsed, regardless of replication state.
func (r *Replica) sendHeartbeatIfDue() {
	if r.now().Sub(r.lastHeartbeat) < HeartbeatInterval {
		return
	}
	r.lastHeartbeat = r.now()
	r.broadcastAppendEntries()
}

// broadcastAppendEntries sends every peer an AppendEntries, unthrottled.
func (r *Replica) broadcastAppendEntries() {
	for _, p := range r.peers {
		r.send(r.buildAppendEntries(p))
		r.metrics.IncAppendEntriesSent(p)
	}
}

// handleAppendEntries implements the Follower receiver rules for AppendEntries.
func (r *Replica) handleAppendEntries(msg transport.Message) {
	if msg.Term < r.currentTerm {
		reply := transport.Message{Dst: msg.Src, Type: transport.TypeFail}
		reply.TermFirstIdx = r.log.FirstIndexOfTermAt(msg.PrevLogIdx)
		r.send(reply)
		return
	}

	// Adopts term/leader from msg and resets the election timer, whether we
	// were already a Follower, or stepping down from Candidate/Leader.
	r.becomeFollower(msg.Term, msg.Src)

	prevEntry, prevExists := r.log.Entry(msg.PrevLogIdx)
	if msg.PrevLogIdx > r.log.LastIndex() || (prevExists && prevEntry.Term != msg.PrevLogTerm) {
		reply := transport.Message{Dst: msg.Src, Type: transport.TypeFail}
		reply.TermFirstIdx = r.log.FirstIndexOfTermAt(msg.PrevLogIdx)
		r.send(reply)
		return
	}

	if len(msg.Entries) > 0 && msg.PrevLogIdx+1 <= r.log.LastIndex() {
		r.log.TruncateFrom(msg.PrevLogIdx + 1)
	}
	r.log.AppendMany(msg.Entries)

	if msg.LeaderCommit < r.log.LastIndex() {
		r.commitIdx = msg.LeaderCommit
	} else {
		r.commitIdx = r.log.LastIndex()
	}
	r.publishMetrics()

	reply := transport.Message{
		Dst:        msg.Src,
		Type:       transport.TypeOK,
		PrevLogIdx: msg.PrevLogIdx,
		Entries:    msg.Entries,
	}
	r.send(reply)
}

// handleAppendEntriesReply implements the Leader's handling of AppendEntries
// replies (ok/fail), meaningful only while still Leader in the same term.
func (r *Replica) handleAppendEntriesReply(msg transport.Message) {
	if r.state != Leader || msg.Term != r.currentTerm {
		return
	}

	switch msg.Type {
	case transport.TypeOK:
		r.matchIndex[msg.Src] = msg.PrevLogIdx + uint64(len(msg.Entries))
		r.nextIndex[msg.Src] = r.matchIndex[msg.Src] + 1
		r.recomputeCommitIndex()

	case transport.TypeFail:
		r.metrics.IncAppendEntriesFailed(msg.Src)
		if msg.TermFirstIdx > 0 {
			next := msg.TermFirstIdx
			if r.matchIndex[msg.Src] > next {
				next = r.matchIndex[msg.Src]
			}
			r.nextIndex[msg.Src] = next
		} else if r.nextIndex[msg.Src] > 1 {
			r.nextIndex[msg.Src]--
		} else {
			r.nextIndex[msg.Src] = 1
		}
		// Retry immediately rather than waiting for the next SendFreq tick.
		r.lastSend[msg.Src] = time.Time{}
		r.send(r.buildAppendEntries(msg.Src))
	}
}

// recomputeCommitIndex applies the "second-highest match index" rule: the
// candidate is the match index held by a majority including self, computed
// as the element at position (numPeers - N/2) of the peers' match indices
// sorted ascending (self, always at least as current, fills the remaining
// majority slot implicitly). Only commits if the candidate entry was
// written in the current term (entries from earlier terms are committed
// indirectly, never by counting alone).
func (r *Replica) recomputeCommitIndex() {
	numPeers := len(r.peers)
	if numPeers == 0 {
		r.tryAdvanceCommit(r.log.LastIndex())
		return
	}

	matches := make([]uint64, 0, numPeers)
	for _, p := range r.peers {
		matches = append(matches, r.matchIndex[p])
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })

	n := numPeers + 1
	position := numPeers - n/2
	if position < 0 || position >= numPeers {
		return
	}
	r.tryAdvanceCommit(matches[position])
}

func (r *Replica) tryAdvanceCommit(candidate uint64) {
	if candidate <= r.commitIdx {
		return
	}
	entry, ok := r.log.Entry(candidate)
	if !ok || entry.Term != r.currentTerm {
		return
	}
	r.commitIdx = candidate
	r.publishMetrics()
}

// applyCommitted advances last_applied up to commit_idx, applying each
// entry to the state machine, then answers clients whose requests just
// became durable.
func (r *Replica) applyCommitted() {
	if r.lastApplied >= r.commitIdx {
		return
	}

	newlyCommitted := make([]uint64, 0, r.commitIdx-r.lastApplied)
	for r.lastApplied < r.commitIdx {
		r.lastApplied++
		e, ok := r.log.Entry(r.lastApplied)
		if !ok {
			break
		}
		r.store.apply(e)
		newlyCommitted = append(newlyCommitted, r.lastApplied)
	}
	r.publishMetrics()

	if r.state != Leader {
		return
	}

	for _, idx := range newlyCommitted {
		e, _ := r.log.Entry(idx)
		if e.Command == CommandPut && e.Term == r.currentTerm {
			reply := transport.Message{Dst: e.Src, Type: transport.TypeOK, MID: e.MID}
			reply.SetValueString(e.Value)
			r.send(reply)
			r.metrics.IncClientRequest("ok")
		}
	}
	r.answerSatisfiedReads()
}

// answerSatisfiedReads replies to every pending read whose recorded
// commit_idx_at_receipt has now been reached or exceeded.
func (r *Replica) answerSatisfiedReads() {
	remaining := r.pendingReads[:0]
	for _, pr := range r.pendingReads {
		if pr.commitIdxAtReceipt > r.commitIdx {
			remaining = append(remaining, pr)
			continue
		}
		reply := transport.Message{Dst: pr.msg.Src, Type: transport.TypeOK, MID: pr.msg.MID}
		reply.SetValueString(r.store.get(pr.msg.Key))
		r.send(reply)
		r.metrics.IncClientRequest("ok")
	}
	r.pendingReads = remaining
}
