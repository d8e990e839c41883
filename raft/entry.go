package raft

import "github.com/kimberlypn/CS3700/transport"

// Log entry commands. The sentinel entry at index 0 carries CommandNone and
// is never transmitted or applied.
const (
	CommandPut  = transport.TypePut
	CommandNoOp = "NO_OP"
	CommandNone = ""
)

// Entry is the in-memory, wire-identical representation of a single log
// entry: an ordered record with fields term, command, and, for client
// commands, src, MID, key, value.
type Entry = transport.Entry

// sentinel is log index 0: term 0, no command, never modified or sent.
var sentinel = Entry{Term: 0, Command: CommandNone}
