// Package output owns the network side of streaming: the listening endpoint
// and the set of live client connections, with frame fan-out and
// eviction-on-error so one dead client never disturbs the others.
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// ErrBadAddress indicates a server address that is not tcp://<ipv4>:<port>.
// This is a configuration error and fatal at startup.
var ErrBadAddress = errors.New("bad network address")

var addrPattern = regexp.MustCompile(`^tcp://(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{1,5})$`)

// Address is a validated tcp://<ipv4>:<port> server endpoint
type Address struct {
	IP   string
	Port int
}

// String returns the host:port form used by net.Listen
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// ParseAddress validates a tcp://<ipv4-dotted>:<port> address string. Any
// other scheme or a malformed IP/port is rejected.
func ParseAddress(s string) (Address, error) {
	m := addrPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("%w: %q (want tcp://<ipv4>:<port>)", ErrBadAddress, s)
	}

	ip := net.ParseIP(m[1])
	if ip == nil || ip.To4() == nil {
		return Address{}, fmt.Errorf("%w: %q (invalid ipv4)", ErrBadAddress, s)
	}

	port, err := strconv.Atoi(m[2])
	if err != nil || port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("%w: %q (invalid port)", ErrBadAddress, s)
	}

	return Address{IP: m[1], Port: port}, nil
}

// client is one live connection
type client struct {
	id   string
	conn net.Conn
}

// NetOutput owns the listening socket and all accepted connections for one
// open-stream cycle. It is constructed on Idle -> WaitingForConnection and
// stopped on the way back to Idle.
//
// Accepted connections surface on Accepted(); OS-level accept failures on
// AcceptErrors() (fatal, not retried). The control loop attaches connections;
// Broadcast may be called from the encoder's output thread, so the connection
// set is mutex-guarded.
type NetOutput struct {
	addr         Address
	singleClient bool

	ln       net.Listener
	accepted chan net.Conn
	acceptEr chan error
	wg       sync.WaitGroup

	mu            sync.Mutex
	clients       []*client
	everConnected bool
	stopped       bool

	framesSent uint64
	bytesSent  uint64
	evictions  uint64
}

// New creates an output for the given (already validated) address.
// In single-client mode the listener is closed after the first attach and the
// stream is exclusive to that client.
func New(addr Address, singleClient bool) *NetOutput {
	return &NetOutput{
		addr:         addr,
		singleClient: singleClient,
		accepted:     make(chan net.Conn, 1),
		acceptEr:     make(chan error, 1),
	}
}

// Listen binds the endpoint and starts accepting in the background.
// A bind failure is fatal to the caller.
func (o *NetOutput) Listen() error {
	ln, err := net.Listen("tcp", o.addr.String())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", o.addr, err)
	}
	o.ln = ln

	o.wg.Add(1)
	go o.acceptLoop()

	slog.Info("stream server listening", "address", o.addr.String(), "single_client", o.singleClient)
	return nil
}

// acceptLoop accepts connections until the listener is closed.
func (o *NetOutput) acceptLoop() {
	defer o.wg.Done()

	for {
		conn, err := o.ln.Accept()
		if err != nil {
			o.mu.Lock()
			stopped := o.stopped
			o.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return
			}
			// OS-level accept failure: fatal, surfaced to the control loop.
			select {
			case o.acceptEr <- fmt.Errorf("accept failed on %s: %w", o.addr, err):
			default:
			}
			return
		}

		select {
		case o.accepted <- conn:
		default:
			// Attach backlog full; the control loop is gone or wedged.
			conn.Close()
		}
	}
}

// Accepted returns the channel of freshly accepted connections.
func (o *NetOutput) Accepted() <-chan net.Conn {
	return o.accepted
}

// AcceptErrors returns the channel carrying a fatal accept failure, if any.
func (o *NetOutput) AcceptErrors() <-chan error {
	return o.acceptEr
}

// Attach adds an accepted connection to the live set. In single-client mode
// the listener is closed so no further clients can connect; a connection that
// raced in through the accept backlog before the close is rejected here, so
// exclusivity holds regardless of accept timing.
func (o *NetOutput) Attach(conn net.Conn) string {
	c := &client{id: uuid.New().String(), conn: conn}

	o.mu.Lock()
	if o.singleClient && o.everConnected {
		o.mu.Unlock()
		conn.Close()
		slog.Warn("rejecting connection, single-client mode",
			"remote", conn.RemoteAddr().String(),
		)
		return ""
	}
	o.clients = append(o.clients, c)
	o.everConnected = true
	count := len(o.clients)
	o.mu.Unlock()

	if o.singleClient && o.ln != nil {
		o.ln.Close()
	}

	slog.Info("client connected",
		"client_id", c.id,
		"remote", conn.RemoteAddr().String(),
		"clients", count,
	)
	return c.id
}

// Broadcast writes the buffer to every live connection. A write error on one
// connection marks exactly that connection for eviction and never aborts
// delivery to the rest; marked connections are closed and removed after the
// pass. Broadcast never fails and is a no-op after Stop.
func (o *NetOutput) Broadcast(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped || len(o.clients) == 0 {
		return
	}

	var evict []*client
	for _, c := range o.clients {
		// net.Conn.Write only returns once the whole buffer is written
		// or the connection failed, so no partial-write loop is needed.
		if _, err := c.conn.Write(data); err != nil {
			slog.Warn("client write failed, evicting",
				"client_id", c.id,
				"error", err,
			)
			evict = append(evict, c)
		}
	}

	o.framesSent++
	o.bytesSent += uint64(len(data)) * uint64(len(o.clients)-len(evict))

	for _, c := range evict {
		o.removeLocked(c)
	}
}

// removeLocked closes and drops one client. Caller holds o.mu.
func (o *NetOutput) removeLocked(victim *client) {
	for i, c := range o.clients {
		if c == victim {
			o.clients[i] = o.clients[len(o.clients)-1]
			o.clients = o.clients[:len(o.clients)-1]
			break
		}
	}
	victim.conn.Close()
	o.evictions++

	slog.Info("client disconnected",
		"client_id", victim.id,
		"clients", len(o.clients),
	)
}

// Empty reports whether every client that connected during this cycle is now
// gone. It only turns true after at least one client has been accepted, which
// is the Connected -> Idle trigger for the control loop.
func (o *NetOutput) Empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.everConnected && len(o.clients) == 0
}

// ClientCount returns the number of live connections.
func (o *NetOutput) ClientCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.clients)
}

// Stop closes the listener and all live connections. Idempotent; subsequent
// Broadcast calls are no-ops.
func (o *NetOutput) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	clients := o.clients
	o.clients = nil
	o.mu.Unlock()

	if o.ln != nil {
		o.ln.Close()
	}
	for _, c := range clients {
		c.conn.Close()
	}
	o.wg.Wait()

	// A connection accepted but not yet attached would otherwise leak.
	select {
	case conn := <-o.accepted:
		conn.Close()
	default:
	}

	slog.Info("stream server stopped",
		"address", o.addr.String(),
		"frames_sent", o.framesSent,
		"evictions", o.evictions,
	)
}

// Stats is a snapshot of output counters
type Stats struct {
	Clients    int
	FramesSent uint64
	BytesSent  uint64
	Evictions  uint64
}

// Stats returns a snapshot of the output counters.
func (o *NetOutput) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Clients:    len(o.clients),
		FramesSent: o.framesSent,
		BytesSent:  o.bytesSent,
		Evictions:  o.evictions,
	}
}
