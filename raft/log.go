package raft

// Log is the ordered, 1-indexed sequence of log entries a replica holds.
// Index 0 is always the sentinel (term 0, no command) and is never sent over
// the wire or removed.
type Log struct {
	entries []Entry // entries[0] is the sentinel
}

// NewLog returns a Log containing only the sentinel entry.
func NewLog() *Log {
	return &Log{entries: []Entry{sentinel}}
}

// LastIndex returns the highest valid index in the log (0 if empty of real
// entries).
func (l *Log) LastIndex() uint64 {
	return uint64(len(l.entries) - 1)
}

// LastTerm returns the term of the entry at LastIndex.
func (l *Log) LastTerm() uint64 {
	return l.entries[l.LastIndex()].Term
}

// Entry returns the entry at index i and whether it exists.
func (l *Log) Entry(i uint64) (Entry, bool) {
	if i > l.LastIndex() {
		return Entry{}, false
	}
	return l.entries[i], true
}

// PrefixMatches reports whether index i with term t could be the previous
// entry in an AppendEntries request: true iff i == 0, or i is within the log
// and its term matches t.
func (l *Log) PrefixMatches(i, t uint64) bool {
	if i == 0 {
		return true
	}
	e, ok := l.Entry(i)
	return ok && e.Term == t
}

// TruncateFrom removes every entry at index >= i. Callers must ensure i is
// strictly greater than the replica's commit index: a committed entry is
// never truncated on any replica (leader completeness).
func (l *Log) TruncateFrom(i uint64) {
	if i == 0 {
		i = 1 // never touch the sentinel
	}
	if i > l.LastIndex() {
		return
	}
	l.entries = l.entries[:i]
}

// AppendMany appends entries, in order, after the current last index.
func (l *Log) AppendMany(entries []Entry) {
	l.entries = append(l.entries, entries...)
}

// Slice returns entries (from, to] — i.e. starting at from+1 through to,
// inclusive — capped so it never reads past LastIndex. Used to build
// AppendEntries batches.
func (l *Log) Slice(from, to uint64) []Entry {
	last := l.LastIndex()
	if to > last {
		to = last
	}
	if from >= to {
		return nil
	}
	out := make([]Entry, to-from)
	copy(out, l.entries[from+1:to+1])
	return out
}

// FirstIndexOfTermAt returns the lowest index j <= i such that
// entry(j).term == entry(i).term. If i is past LastIndex, it returns
// LastIndex instead (used to build AppendEntries conflict hints when the
// follower's log is shorter than the leader assumed).
func (l *Log) FirstIndexOfTermAt(i uint64) uint64 {
	if i > l.LastIndex() {
		return l.LastIndex()
	}
	term := l.entries[i].Term
	j := i
	for j > 0 && l.entries[j-1].Term == term {
		j--
	}
	return j
}
