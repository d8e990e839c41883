package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStartsWithSentinel(t *testing.T) {
	l := NewLog()
	assert.Equal(t, uint64(0), l.LastIndex())
	assert.Equal(t, uint64(0), l.LastTerm())
	e, ok := l.Entry(0)
	require.True(t, ok)
	assert.Equal(t, CommandNone, e.Command)
}

func TestAppendManyAdvancesLastIndex(t *testing.T) {
	l := NewLog()
	l.AppendMany([]Entry{{Term: 1, Command: CommandPut, Key: "a", Value: "1"}})
	l.AppendMany([]Entry{{Term: 1, Command: CommandPut, Key: "b", Value: "2"}})

	assert.Equal(t, uint64(2), l.LastIndex())
	assert.Equal(t, uint64(1), l.LastTerm())

	e, ok := l.Entry(1)
	require.True(t, ok)
	assert.Equal(t, "a", e.Key)
}

func TestPrefixMatches(t *testing.T) {
	l := NewLog()
	l.AppendMany([]Entry{{Term: 1}, {Term: 2}})

	assert.True(t, l.PrefixMatches(0, 0))
	assert.True(t, l.PrefixMatches(1, 1))
	assert.True(t, l.PrefixMatches(2, 2))
	assert.False(t, l.PrefixMatches(2, 1))
	assert.False(t, l.PrefixMatches(3, 2)) // past last index
}

func TestTruncateFromRemovesSuffix(t *testing.T) {
	l := NewLog()
	l.AppendMany([]Entry{{Term: 1}, {Term: 1}, {Term: 2}})
	require.Equal(t, uint64(3), l.LastIndex())

	l.TruncateFrom(2)
	assert.Equal(t, uint64(1), l.LastIndex())
	assert.Equal(t, uint64(1), l.LastTerm())
}

func TestTruncateFromNeverTouchesSentinel(t *testing.T) {
	l := NewLog()
	l.AppendMany([]Entry{{Term: 1}})
	l.TruncateFrom(0)

	e, ok := l.Entry(0)
	require.True(t, ok)
	assert.Equal(t, uint64(0), e.Term)
	assert.Equal(t, uint64(0), l.LastIndex())
}

func TestSliceReturnsOpenLeftClosedRight(t *testing.T) {
	l := NewLog()
	l.AppendMany([]Entry{{Term: 1, Key: "a"}, {Term: 1, Key: "b"}, {Term: 2, Key: "c"}})

	got := l.Slice(0, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, "b", got[1].Key)

	assert.Empty(t, l.Slice(3, 3))
	assert.Len(t, l.Slice(0, 100), 3) // capped at LastIndex
}

func TestFirstIndexOfTermAt(t *testing.T) {
	l := NewLog()
	l.AppendMany([]Entry{{Term: 1}, {Term: 1}, {Term: 2}, {Term: 2}, {Term: 2}})

	assert.Equal(t, uint64(1), l.FirstIndexOfTermAt(2))
	assert.Equal(t, uint64(3), l.FirstIndexOfTermAt(4))
	assert.Equal(t, uint64(0), l.FirstIndexOfTermAt(0))
	// past the end: returns LastIndex
	assert.Equal(t, l.LastIndex(), l.FirstIndexOfTermAt(99))
}
