package raft

import "github.com/kimberlypn/CS3700/transport"

// handleClientRequest is the entry point for get/put messages arriving via
// dispatch. Leaders serve them now; everyone else buffers for later
// redirect or fail.
func (r *Replica) handleClientRequest(msg transport.Message) {
	if r.state != Leader {
		r.buffered.Put(msg)
		return
	}
	r.serve(msg)
}

// serve processes a single client get/put as the Leader.
func (r *Replica) serve(msg transport.Message) {
	switch msg.Type {
	case transport.TypePut:
		r.doPut(msg)
	case transport.TypeGet:
		r.doGet(msg)
	}
}

// doPut implements the Leader's put handling: idempotent replay for a
// previously-committed MID, otherwise append a new entry and defer the
// reply until it commits (see replication.go's applyCommitted).
func (r *Replica) doPut(msg transport.Message) {
	for i := uint64(1); i <= r.commitIdx; i++ {
		e, ok := r.log.Entry(i)
		if ok && e.Command == CommandPut && e.Src == msg.Src && e.MID == msg.MID {
			reply := transport.Message{Dst: msg.Src, Type: transport.TypeOK, MID: msg.MID}
			reply.SetValueString(r.store.get(msg.Key))
			r.send(reply)
			r.metrics.IncClientRequest("ok")
			return
		}
	}

	r.log.AppendMany([]Entry{{
		Term:    r.currentTerm,
		Command: CommandPut,
		Src:     msg.Src,
		MID:     msg.MID,
		Key:     msg.Key,
		Value:   msg.ValueString(),
	}})
	r.publishMetrics()
}

// doGet implements the Leader's get handling: the read is recorded with the
// commit index at receipt time and answered on the next commit advance. If
// there's nothing in flight, a NO_OP entry is appended so the next commit
// round proves this replica is still the leader.
func (r *Replica) doGet(msg transport.Message) {
	r.pendingReads = append(r.pendingReads, pendingRead{
		commitIdxAtReceipt: r.commitIdx,
		msg:                msg,
		receiptTime:        r.now(),
	})
	if r.commitIdx == r.log.LastIndex() {
		r.log.AppendMany([]Entry{{Term: r.currentTerm, Command: CommandNoOp}})
		r.publishMetrics()
	}
}

// manageBufferedClients runs once per tick:
//   - Leader: serve every buffered request now.
//   - known leader: redirect every buffered request to it.
//   - unknown leader: after ClientBufferFailAfter, fail every buffered
//     request rather than let clients hammer a leaderless cluster.
func (r *Replica) manageBufferedClients() {
	switch {
	case r.state == Leader:
		r.buffered.Each(func(msg transport.Message) { r.serve(msg) })
		r.buffered.Clear()
		r.lastBufferFlush = r.now()

	case r.leader != transport.Broadcast:
		r.buffered.Each(func(msg transport.Message) {
			r.send(transport.Message{Dst: msg.Src, Type: transport.TypeRedirect, MID: msg.MID})
			r.metrics.IncClientRequest("redirect")
		})
		r.buffered.Clear()
		r.lastBufferFlush = r.now()

	case r.now().Sub(r.lastBufferFlush) >= ClientBufferFailAfter:
		r.buffered.Each(func(msg transport.Message) {
			r.send(transport.Message{Dst: msg.Src, Type: transport.TypeFail, MID: msg.MID})
			r.metrics.IncClientRequest("fail")
		})
		r.buffered.Clear()
		r.lastBufferFlush = r.now()
	}
}

// failStalePendingReads removes and fails any pending read older than
// PendingReadStaleAfter, each tick.
func (r *Replica) failStalePendingReads() {
	remaining := r.pendingReads[:0]
	for _, pr := range r.pendingReads {
		if r.now().Sub(pr.receiptTime) >= PendingReadStaleAfter {
			r.send(transport.Message{Dst: pr.msg.Src, Type: transport.TypeFail, MID: pr.msg.MID})
			r.metrics.IncClientRequest("fail")
			continue
		}
		remaining = append(remaining, pr)
	}
	r.pendingReads = remaining
}
