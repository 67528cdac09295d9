package udpstream

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rectcircle/udpstream/internal/udpstream/protocol"
	"github.com/rectcircle/udpstream/internal/variable"
	"github.com/rectcircle/udpstream/tools"
)

// Endpoint - one UDP socket multiplexing sessions by peer address. It owns
// every Session: the read loop routes inbound datagrams (creating a session on
// first contact from an unknown address) and the tick loop drives
// retransmission deadlines and reaps sessions that reached Closed.
type Endpoint struct {
	conn net.PacketConn

	mu       sync.Mutex
	sessions map[string]*protocol.Session

	acceptChannel chan *protocol.Session
	closed        chan struct{}
	closeOnce     sync.Once
}

// NewEndpoint - wrap an already bound packet connection
func NewEndpoint(conn net.PacketConn) *Endpoint {
	endpoint := &Endpoint{
		conn:          conn,
		sessions:      map[string]*protocol.Session{},
		acceptChannel: make(chan *protocol.Session, variable.MaxSessions),
		closed:        make(chan struct{}),
	}
	go endpoint.readLoop()
	go endpoint.tickLoop()
	return endpoint
}

// Listen - bind a UDP socket on `host:port` and serve sessions on it
func Listen(host string, port uint16) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", tools.ToAddressString(host, port))
	if err != nil {
		return nil, errors.Wrap(err, "bind udp")
	}
	return NewEndpoint(conn), nil
}

// Dial - bind an ephemeral UDP socket and open a session to `host:port`.
// The session is registered immediately; the peer learns about it on the
// first segment.
func Dial(host string, port uint16) (*Endpoint, *protocol.Session, error) {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, nil, errors.Wrap(err, "bind udp")
	}
	endpoint := NewEndpoint(conn)
	session, err2 := endpoint.Open(host, port)
	if err2 != nil {
		endpoint.Close()
		return nil, nil, err2
	}
	return endpoint, session, nil
}

// Open - the session to `host:port`, created when not present yet
func (e *Endpoint) Open(host string, port uint16) (*protocol.Session, error) {
	peer, err := net.ResolveUDPAddr("udp", tools.ToAddressString(host, port))
	if err != nil {
		return nil, errors.Wrap(err, "resolve peer address")
	}
	return e.OpenAddr(peer)
}

// OpenAddr - the session to an already resolved peer address
func (e *Endpoint) OpenAddr(peer net.Addr) (*protocol.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if session, ok := e.sessions[peer.String()]; ok {
		return session, nil
	}
	if len(e.sessions) >= variable.MaxSessions {
		return nil, errors.Errorf("session table full (max = %d)", variable.MaxSessions)
	}
	return e.newSessionLocked(peer), nil
}

// Accept - wait for a session created by an unknown peer's first datagram
func (e *Endpoint) Accept() (*protocol.Session, error) {
	select {
	case session := <-e.acceptChannel:
		return session, nil
	case <-e.closed:
		return nil, errors.New("endpoint closed")
	}
}

// Close - stop the loops, close the socket, abort every session
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.conn.Close()
		e.mu.Lock()
		sessions := make([]*protocol.Session, 0, len(e.sessions))
		for _, session := range e.sessions {
			sessions = append(sessions, session)
		}
		e.sessions = map[string]*protocol.Session{}
		e.mu.Unlock()
		for _, session := range sessions {
			session.Abort()
		}
	})
	return nil
}

// LocalAddr - the bound UDP address
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

func (e *Endpoint) newSessionLocked(peer net.Addr) *protocol.Session {
	conn := e.conn
	session := protocol.NewSession(conn.LocalAddr(), peer, func(segment protocol.Segment) {
		_, err := conn.WriteTo(segment.Serialize(), peer)
		if err != nil {
			tools.TraceF("endpoint send to %s: %v\n", peer.String(), err)
		}
	}, time.Now)
	e.sessions[peer.String()] = session
	return session
}

// readLoop - the event loop for inbound datagrams. A datagram that can not be
// decoded is dropped without feedback, the sender's identity is unreliable.
func (e *Endpoint) readLoop() {
	buffer := make([]byte, 64*1024)
	for {
		n, peer, err := e.conn.ReadFrom(buffer)
		if err != nil {
			select {
			case <-e.closed:
			default:
				tools.TraceF("endpoint receive: %v\n", err)
				e.Close()
			}
			return
		}
		segment, err2 := protocol.Deserialize(buffer[:n])
		if err2 != nil {
			tools.TraceF("endpoint drop malformed datagram from %s: %v\n", peer.String(), err2)
			continue
		}
		e.mu.Lock()
		session, ok := e.sessions[peer.String()]
		if !ok {
			if len(e.sessions) >= variable.MaxSessions {
				e.mu.Unlock()
				tools.TraceF("endpoint drop datagram from %s: session table full\n", peer.String())
				continue
			}
			session = e.newSessionLocked(peer)
			select {
			case e.acceptChannel <- session:
			default:
			}
		}
		e.mu.Unlock()
		session.HandleSegment(segment)
	}
}

// tickLoop - periodic timer shared by all sessions
func (e *Endpoint) tickLoop() {
	ticker := time.NewTicker(variable.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case now := <-ticker.C:
			e.mu.Lock()
			sessions := make(map[string]*protocol.Session, len(e.sessions))
			for key, session := range e.sessions {
				sessions[key] = session
			}
			e.mu.Unlock()
			for key, session := range sessions {
				session.Tick(now)
				if session.State() == protocol.StateClosed {
					e.mu.Lock()
					delete(e.sessions, key)
					e.mu.Unlock()
				}
			}
		}
	}
}
