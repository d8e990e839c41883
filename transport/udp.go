package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBasePort is added to a replica's 4-hex-digit ID (parsed as an
// integer) to derive the UDP port it listens on, so a whole cluster can run
// on one machine with nothing but IDs on the command line — the same
// convention the retired course simulator used.
const DefaultBasePort = 30000

// UDPTransport is the production Transport: one UDP socket per replica,
// peers addressed by the same base-port-plus-ID convention.
type UDPTransport struct {
	id       string
	conn     *net.UDPConn
	peers    map[string]*net.UDPAddr
	basePort int
	log      zerolog.Logger
}

// NewUDPTransport binds a UDP socket for self and resolves every peer
// address using basePort. Peer and self IDs must be 4-hex-digit strings.
func NewUDPTransport(self string, peers []string, basePort int, logger zerolog.Logger) (*UDPTransport, error) {
	addr, err := idAddr(self, basePort)
	if err != nil {
		return nil, fmt.Errorf("resolving self address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	peerAddrs := make(map[string]*net.UDPAddr, len(peers))
	for _, p := range peers {
		a, err := idAddr(p, basePort)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolving peer %s address: %w", p, err)
		}
		peerAddrs[p] = a
	}

	return &UDPTransport{
		id:       self,
		conn:     conn,
		peers:    peerAddrs,
		basePort: basePort,
		log:      logger,
	}, nil
}

// ResolveAddr derives the loopback UDP address for a 4-hex-digit ID, using
// the same base-port convention UDPTransport uses internally. Exposed so
// non-replica callers (the reference client) can address a replica without
// duplicating the convention.
func ResolveAddr(id string, basePort int) (*net.UDPAddr, error) {
	return idAddr(id, basePort)
}

func idAddr(id string, basePort int) (*net.UDPAddr, error) {
	n, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("id %q is not 4 hex digits: %w", id, err)
	}
	return net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", basePort+int(n)))
}

// LocalID implements Transport.
func (t *UDPTransport) LocalID() string { return t.id }

// Send implements Transport. A broadcast destination fans out to every known
// peer; anything else is addressed directly.
func (t *UDPTransport) Send(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(b) > MaxMessageBytes {
		return fmt.Errorf("encoded message is %d bytes, exceeds %d byte limit", len(b), MaxMessageBytes)
	}

	if msg.Dst == Broadcast {
		var firstErr error
		for id, addr := range t.peers {
			if _, err := t.conn.WriteToUDP(b, addr); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("broadcasting to %s: %w", id, err)
			}
		}
		return firstErr
	}

	addr, ok := t.peers[msg.Dst]
	if !ok {
		return fmt.Errorf("unknown destination %q", msg.Dst)
	}
	_, err = t.conn.WriteToUDP(b, addr)
	return err
}

// Recv implements Transport.
func (t *UDPTransport) Recv(timeout time.Duration) (Message, bool, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Message{}, false, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, MaxMessageBytes)
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return Message{}, false, nil
		}
		return Message{}, false, err
	}

	var msg Message
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		t.log.Warn().Err(err).Int("bytes", n).Msg("dropping malformed datagram")
		return Message{}, false, nil
	}
	return msg, true, nil
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return err == os.ErrDeadlineExceeded
}
