package udpstream

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rectcircle/udpstream/internal/udpstream/protocol"
	"github.com/rectcircle/udpstream/internal/variable"
)

type memAddr string

func (a memAddr) Network() string { return "udp" }
func (a memAddr) String() string  { return string(a) }

type memPacket struct {
	from memAddr
	data []byte
}

// memNetwork - an in-memory datagram switchboard with seeded packet loss,
// duplication and reordering, so the whole endpoint stack runs under a
// misbehaving network without touching a real socket.
type memNetwork struct {
	mu       sync.Mutex
	rng      *rand.Rand
	dropRate float64
	dupRate  float64
	swapRate float64
	conns    map[string]*memConn
	held     map[string]*memPacket // one held-back packet per target
}

func newMemNetwork(seed int64) *memNetwork {
	return &memNetwork{
		rng:   rand.New(rand.NewSource(seed)),
		conns: map[string]*memConn{},
		held:  map[string]*memPacket{},
	}
}

func (n *memNetwork) conn(name string) *memConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	conn := &memConn{
		network: n,
		addr:    memAddr(name),
		inbox:   make(chan memPacket, 8192),
		closed:  make(chan struct{}),
	}
	n.conns[name] = conn
	return conn
}

func (n *memNetwork) deliver(from memAddr, to string, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	target, ok := n.conns[to]
	if !ok {
		return
	}
	if n.rng.Float64() < n.dropRate {
		return
	}
	packet := memPacket{from: from, data: append([]byte(nil), data...)}
	// reordering: swap with the packet held back for this target
	if held := n.held[to]; held != nil {
		if n.rng.Float64() < 0.5 {
			target.push(*held)
			n.held[to] = &packet
		} else {
			target.push(packet)
			target.push(*held)
			n.held[to] = nil
		}
		return
	}
	if n.rng.Float64() < n.swapRate {
		n.held[to] = &packet
		return
	}
	target.push(packet)
	if n.rng.Float64() < n.dupRate {
		target.push(memPacket{from: from, data: append([]byte(nil), data...)})
	}
}

// flush - release every held-back packet, nothing stays parked forever
func (n *memNetwork) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for to, held := range n.held {
		if held != nil {
			if target, ok := n.conns[to]; ok {
				target.push(*held)
			}
		}
		delete(n.held, to)
	}
}

// memConn implements net.PacketConn on top of memNetwork
type memConn struct {
	network   *memNetwork
	addr      memAddr
	inbox     chan memPacket
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *memConn) push(packet memPacket) {
	select {
	case c.inbox <- packet:
	default:
		// a full inbox behaves like any other packet loss
	}
}

func (c *memConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case packet := <-c.inbox:
		count := copy(p, packet.data)
		return count, packet.from, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *memConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, errors.New("use of closed connection")
	default:
	}
	c.network.deliver(c.addr, addr.String(), p)
	return len(p), nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) LocalAddr() net.Addr                { return c.addr }
func (c *memConn) SetDeadline(t time.Time) error      { return nil }
func (c *memConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *memConn) SetWriteDeadline(t time.Time) error { return nil }

// shrinkTimers - compress every protocol timer so a lossy transfer converges
// within a test run, restored on cleanup
func shrinkTimers(t *testing.T) {
	t.Helper()
	saved := []struct {
		target *time.Duration
		value  time.Duration
	}{
		{&variable.TickInterval, 2 * time.Millisecond},
		{&variable.RTODefault, 30 * time.Millisecond},
		{&variable.RTOMin, 10 * time.Millisecond},
		{&variable.RTOMax, 200 * time.Millisecond},
		{&variable.ClockGranularity, 2 * time.Millisecond},
		{&variable.HeartbeatInterval, time.Second},
		{&variable.CloseTimeout, 2 * time.Second},
	}
	for i := range saved {
		old := *saved[i].target
		target := saved[i].target
		*target = saved[i].value
		t.Cleanup(func() { *target = old })
	}
	oldRetries := variable.MaxRetries
	variable.MaxRetries = 50
	t.Cleanup(func() { variable.MaxRetries = oldRetries })
	oldSize := variable.MaxSegmentSize
	variable.MaxSegmentSize = 64
	t.Cleanup(func() { variable.MaxSegmentSize = oldSize })
}

func TestEndpointEcho(t *testing.T) {
	shrinkTimers(t)
	network := newMemNetwork(1)
	server := NewEndpoint(network.conn("server"))
	defer server.Close()
	client := NewEndpoint(network.conn("client"))
	defer client.Close()

	go func() {
		session, err := server.Accept()
		if err != nil {
			return
		}
		io.Copy(session, session)
	}()

	session, err := client.OpenAddr(memAddr("server"))
	if err != nil {
		t.Fatalf("OpenAddr() err = %v", err)
	}
	session.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := session.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() err = %v", err)
	}
	buffer := make([]byte, 4)
	if _, err := io.ReadFull(session, buffer); err != nil {
		t.Fatalf("ReadFull() err = %v", err)
	}
	if string(buffer) != "ping" {
		t.Errorf("echo = %q, want \"ping\"", buffer)
	}
}

// the core delivery property: a large transfer over a dropping, duplicating,
// reordering network still arrives complete and in order
func TestEndpointLossyTransfer(t *testing.T) {
	shrinkTimers(t)
	seed := time.Now().UnixNano()
	t.Logf("seed = %d", seed)
	network := newMemNetwork(seed)
	network.dropRate = 0.15
	network.dupRate = 0.1
	network.swapRate = 0.1

	server := NewEndpoint(network.conn("server"))
	defer server.Close()
	client := NewEndpoint(network.conn("client"))
	defer client.Close()

	payload := make([]byte, 8*1024)
	rand.New(rand.NewSource(seed)).Read(payload)

	session, err := client.OpenAddr(memAddr("server"))
	if err != nil {
		t.Fatalf("OpenAddr() err = %v", err)
	}
	go func() {
		session.Write(payload)
		session.Close()
	}()

	accepted, err := server.Accept()
	if err != nil {
		t.Fatalf("Accept() err = %v", err)
	}
	accepted.SetReadDeadline(time.Now().Add(30 * time.Second))
	// nothing may stay parked in the reorder buffer at the tail
	stopFlush := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopFlush:
				return
			case <-ticker.C:
				network.flush()
			}
		}
	}()
	defer close(stopFlush)

	received := make([]byte, len(payload))
	if _, err := io.ReadFull(accepted, received); err != nil {
		t.Fatalf("ReadFull() err = %v", err)
	}
	if !bytes.Equal(received, payload) {
		t.Fatalf("received bytes differ from the sent payload")
	}
	// after the payload only the close remains
	if _, err := accepted.Read(make([]byte, 1)); !errors.Is(err, protocol.ErrPeerClosed) {
		t.Errorf("Read() after the stream end err = %v, want ErrPeerClosed", err)
	}
}

func TestEndpointOpenAddrReusesSession(t *testing.T) {
	network := newMemNetwork(1)
	endpoint := NewEndpoint(network.conn("a"))
	defer endpoint.Close()
	first, err := endpoint.OpenAddr(memAddr("b"))
	if err != nil {
		t.Fatalf("OpenAddr() err = %v", err)
	}
	second, err := endpoint.OpenAddr(memAddr("b"))
	if err != nil {
		t.Fatalf("OpenAddr() err = %v", err)
	}
	if first != second {
		t.Errorf("OpenAddr() created a second session for the same peer")
	}
}

func TestEndpointSessionTableFull(t *testing.T) {
	old := variable.MaxSessions
	variable.MaxSessions = 1
	t.Cleanup(func() { variable.MaxSessions = old })
	network := newMemNetwork(1)
	endpoint := NewEndpoint(network.conn("a"))
	defer endpoint.Close()
	if _, err := endpoint.OpenAddr(memAddr("b")); err != nil {
		t.Fatalf("OpenAddr() err = %v", err)
	}
	if _, err := endpoint.OpenAddr(memAddr("c")); err == nil {
		t.Errorf("OpenAddr() over the session cap succeeded, want an error")
	}
}

func TestEndpointCloseAbortsSessions(t *testing.T) {
	network := newMemNetwork(1)
	endpoint := NewEndpoint(network.conn("a"))
	session, err := endpoint.OpenAddr(memAddr("b"))
	if err != nil {
		t.Fatalf("OpenAddr() err = %v", err)
	}
	endpoint.Close()
	if _, err := session.Read(make([]byte, 1)); !errors.Is(err, protocol.ErrPeerClosed) {
		t.Errorf("Read() after endpoint close err = %v, want ErrPeerClosed", err)
	}
}
