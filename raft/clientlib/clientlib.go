// Package clientlib is a minimal reference implementation of the client
// side of the wire contract: enough to send get/put and follow redirects,
// for manual testing. It is not part of the
// replicated state machine itself.
package clientlib

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/kimberlypn/CS3700/transport"
)

const maxRedirects = 5

// Client speaks the get/put wire contract to a replica cluster, following
// redirect replies until one replica actually serves the request.
type Client struct {
	id       string
	target   string
	basePort int
	midGen   func() string
	timeout  time.Duration
}

// New constructs a Client that starts by contacting firstTarget.
func New(firstTarget string, basePort int, midGen func() string, timeout time.Duration) *Client {
	return &Client{
		id:       "client-" + midGen(),
		target:   firstTarget,
		basePort: basePort,
		midGen:   midGen,
		timeout:  timeout,
	}
}

// Get performs a linearizable read, gated on the Leader's read-commit
// confirmation.
func (c *Client) Get(key string) (string, error) {
	reply, err := c.roundTrip(transport.Message{Type: transport.TypeGet, Key: key})
	if err != nil {
		return "", err
	}
	return reply.ValueString(), nil
}

// Put performs a write; the returned error is nil once the leader has
// confirmed the command committed.
func (c *Client) Put(key, value string) error {
	msg := transport.Message{Type: transport.TypePut, Key: key}
	msg.SetValueString(value)
	_, err := c.roundTrip(msg)
	return err
}

func (c *Client) roundTrip(msg transport.Message) (transport.Message, error) {
	msg.Src = c.id
	msg.Leader = transport.Broadcast
	msg.MID = c.midGen()

	for i := 0; i < maxRedirects; i++ {
		reply, ok, err := c.send(msg)
		if err != nil {
			return transport.Message{}, err
		}
		if !ok {
			return transport.Message{}, fmt.Errorf("no reply from %s within %s", c.target, c.timeout)
		}

		switch reply.Type {
		case transport.TypeOK:
			return reply, nil
		case transport.TypeFail:
			return transport.Message{}, fmt.Errorf("request failed (MID %s)", msg.MID)
		case transport.TypeRedirect:
			c.target = reply.Leader
			continue
		default:
			return transport.Message{}, fmt.Errorf("unexpected reply type %q", reply.Type)
		}
	}
	return transport.Message{}, fmt.Errorf("exceeded %d redirects without being served", maxRedirects)
}

func (c *Client) send(msg transport.Message) (transport.Message, bool, error) {
	addr, err := transport.ResolveAddr(c.target, c.basePort)
	if err != nil {
		return transport.Message{}, false, fmt.Errorf("resolving %s: %w", c.target, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return transport.Message{}, false, fmt.Errorf("dialing %s: %w", c.target, err)
	}
	defer conn.Close()

	b, err := json.Marshal(msg)
	if err != nil {
		return transport.Message{}, false, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return transport.Message{}, false, fmt.Errorf("sending request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return transport.Message{}, false, err
	}
	buf := make([]byte, transport.MaxMessageBytes)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return transport.Message{}, false, nil
		}
		return transport.Message{}, false, err
	}

	var reply transport.Message
	if err := json.Unmarshal(buf[:n], &reply); err != nil {
		return transport.Message{}, false, fmt.Errorf("decoding reply: %w", err)
	}
	return reply, true, nil
}
