package raft

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimberlypn/CS3700/transport"
)

// cluster is a small test harness wiring N replicas to a shared FakeNetwork,
// stepped by hand via Tick rather than Run, so tests can assert between
// rounds instead of racing a background goroutine.
type cluster struct {
	net      *transport.FakeNetwork
	replicas map[string]*Replica
	order    []string
}

func newCluster(ids ...string) *cluster {
	net := transport.NewFakeNetwork()
	c := &cluster{net: net, replicas: make(map[string]*Replica, len(ids)), order: ids}

	for i, id := range ids {
		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		tr := net.NewTransport(id)
		c.replicas[id] = New(id, peers, tr, zerolog.Nop(), nil, int64(100+i))
	}
	return c
}

// tick steps every replica once, in a fixed order, n times.
func (c *cluster) tick(n int) {
	for i := 0; i < n; i++ {
		for _, id := range c.order {
			c.replicas[id].Tick()
		}
	}
}

func (c *cluster) leader() *Replica {
	for _, id := range c.order {
		if r := c.replicas[id]; r.State() == Leader {
			return r
		}
	}
	return nil
}

// awaitLeader ticks the cluster until exactly one replica reports Leader, or
// fails the test after maxRounds.
func awaitLeader(t *testing.T, c *cluster, maxRounds int) *Replica {
	t.Helper()
	for i := 0; i < maxRounds; i++ {
		c.tick(1)
		if l := c.leader(); l != nil {
			return l
		}
	}
	t.Fatal("no leader elected within maxRounds")
	return nil
}

// useFastTimings shrinks every timing parameter for the duration of a test.
func useFastTimings(t *testing.T) {
	t.Helper()
	restore := SetTestTimings(0.05)
	t.Cleanup(restore)
}

func TestSingleNodeClusterElectsItselfImmediately(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000")
	l := awaitLeader(t, c, 200)
	assert.Equal(t, "0000", l.ID())
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000", "0001", "0002")
	l := awaitLeader(t, c, 2000)
	require.NotNil(t, l)

	leaders := 0
	for _, id := range c.order {
		if c.replicas[id].State() == Leader {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)
}

// sendAsClient registers a client-role FakeTransport on net and delivers msg
// to dst, returning the transport so the caller can Recv the reply.
func sendAsClient(net *transport.FakeNetwork, dst string, msg transport.Message) *transport.FakeTransport {
	cl := net.NewTransport(msg.Src)
	msg.Dst = dst
	_ = cl.Send(msg)
	return cl
}

func TestPutThenGetRoundTrip(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000", "0001", "0002")
	l := awaitLeader(t, c, 2000)

	put := transport.Message{Src: "client-1", Type: transport.TypePut, Key: "x", MID: "mid-1"}
	put.SetValueString("hello")
	cl := sendAsClient(c.net, l.ID(), put)

	var reply transport.Message
	for i := 0; i < 200; i++ {
		c.tick(1)
		if msg, ok, err := cl.Recv(time.Millisecond); err == nil && ok {
			reply = msg
			break
		}
	}
	require.Equal(t, transport.TypeOK, reply.Type)
	assert.Equal(t, "mid-1", reply.MID)

	get := transport.Message{Src: "client-1", Type: transport.TypeGet, Key: "x", MID: "mid-2"}
	cl2 := sendAsClient(c.net, l.ID(), get)

	reply = transport.Message{}
	for i := 0; i < 200; i++ {
		c.tick(1)
		if msg, ok, err := cl2.Recv(time.Millisecond); err == nil && ok {
			reply = msg
			break
		}
	}
	require.Equal(t, transport.TypeOK, reply.Type)
	assert.Equal(t, "hello", reply.ValueString())
}

func TestFollowerRedirectsClientToKnownLeader(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000", "0001", "0002")
	l := awaitLeader(t, c, 2000)

	var follower string
	for _, id := range c.order {
		if id != l.ID() {
			follower = id
			break
		}
	}

	// Let the follower learn who the leader is via a heartbeat or two.
	c.tick(20)

	put := transport.Message{Src: "client-1", Type: transport.TypePut, Key: "x", MID: "mid-1"}
	put.SetValueString("v")
	cl := sendAsClient(c.net, follower, put)

	var reply transport.Message
	for i := 0; i < 100; i++ {
		c.tick(1)
		if msg, ok, err := cl.Recv(time.Millisecond); err == nil && ok {
			reply = msg
			break
		}
	}
	require.Equal(t, transport.TypeRedirect, reply.Type)
	assert.Equal(t, l.ID(), reply.Leader)
}

func TestDuplicatePutIsIdempotentOnceCommitted(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000", "0001", "0002")
	l := awaitLeader(t, c, 2000)

	mkPut := func() transport.Message {
		m := transport.Message{Src: "client-1", Type: transport.TypePut, Key: "k", MID: "same-mid"}
		m.SetValueString("v1")
		return m
	}

	cl := sendAsClient(c.net, l.ID(), mkPut())
	var first transport.Message
	for i := 0; i < 200; i++ {
		c.tick(1)
		if msg, ok, err := cl.Recv(time.Millisecond); err == nil && ok {
			first = msg
			break
		}
	}
	require.Equal(t, transport.TypeOK, first.Type)

	lastIndexAfterFirst := l.log.LastIndex()

	cl2 := sendAsClient(c.net, l.ID(), mkPut())
	var second transport.Message
	for i := 0; i < 50; i++ {
		c.tick(1)
		if msg, ok, err := cl2.Recv(time.Millisecond); err == nil && ok {
			second = msg
			break
		}
	}
	require.Equal(t, transport.TypeOK, second.Type)
	assert.Equal(t, lastIndexAfterFirst, l.log.LastIndex(), "replayed MID must not append a second entry")
}

func TestLeaderStepsDownWhenHigherTermSeen(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000", "0001", "0002")
	l := awaitLeader(t, c, 2000)
	higherTerm := l.currentTerm + 5

	// A crafted AppendEntries carrying a much higher term should force the
	// leader to step down the instant it's dispatched, regardless of whether
	// the prev-log check that follows it succeeds.
	injector := c.net.NewTransport("injector")
	require.NoError(t, injector.Send(transport.Message{
		Src:  "0001",
		Dst:  l.ID(),
		Type: transport.TypeAppendEntries,
		Term: higherTerm,
	}))

	c.tick(1)
	assert.Equal(t, Follower, l.State())
	assert.Equal(t, higherTerm, l.currentTerm)
}

func TestPartitionedFollowerCatchesUpAfterHeal(t *testing.T) {
	useFastTimings(t)
	c := newCluster("0000", "0001", "0002")
	l := awaitLeader(t, c, 2000)

	var victim string
	for _, id := range c.order {
		if id != l.ID() {
			victim = id
			break
		}
	}

	c.net.Partition(victim)

	put := transport.Message{Src: "client-1", Type: transport.TypePut, Key: "k", MID: "mid-during-partition"}
	put.SetValueString("v")
	cl := sendAsClient(c.net, l.ID(), put)

	var reply transport.Message
	for i := 0; i < 200; i++ {
		c.tick(1)
		if msg, ok, err := cl.Recv(time.Millisecond); err == nil && ok {
			reply = msg
			break
		}
	}
	require.Equal(t, transport.TypeOK, reply.Type, "majority without the partitioned follower must still commit")

	c.net.Heal(victim)
	c.tick(400)

	assert.Equal(t, l.log.LastIndex(), c.replicas[victim].log.LastIndex(), "healed follower must catch up to the leader's log")
}
