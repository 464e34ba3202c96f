package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/aibroker/lib/queue"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConn is one accepted connection. All frames to the client pass
// through the outbox and are written by a single writer goroutine.
type serverConn struct {
	id         uint64
	conn       net.Conn
	outbox     *queue.LockFreeMPSC[frame]
	writerDone chan struct{}
	timeout    time.Duration
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	closeHandler      func(conn transport.IConn)
	config            common.ServerConfig
	bufferPool        *sync.Pool
	bufferSize        int
	maxWorkersPerConn int

	mu       sync.Mutex
	listener net.Listener
	conns    map[uint64]*serverConn
	nextID   atomic.Uint64
	closed   atomic.Bool
	connWg   sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {
	// minimum one worker per connection
	maxWorkersPerConn = max(maxWorkersPerConn, 1)

	return &serverTransport{
		connector:         connector,
		bufferSize:        bufferSize,
		maxWorkersPerConn: maxWorkersPerConn,
		conns:             make(map[uint64]*serverConn),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) RegisterCloseHandler(handler func(conn transport.IConn)) {
	t.closeHandler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		listener.Close()
		return transport.ErrConnClosed
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Endpoint, t.maxWorkersPerConn)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		c := t.register(conn)
		if c == nil {
			conn.Close()
			return nil
		}

		// Handle the connection in a goroutine
		go t.handleConnection(c)
	}
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed.Swap(true) {
		t.mu.Unlock()
		return nil
	}

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	// closing the sockets ends the read loops, cleanup happens there
	for _, c := range t.conns {
		c.conn.Close()
	}
	t.mu.Unlock()

	t.connWg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConn)
// --------------------------------------------------------------------------

func (c *serverConn) ID() uint64 {
	return c.id
}

func (c *serverConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *serverConn) Push(channel uint64, payload []byte) error {
	if !c.outbox.Push(frame{channel: channel, data: payload}) {
		return transport.ErrConnClosed
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// register tracks a new connection, it returns nil if the transport is closed
func (t *serverTransport) register(conn net.Conn) *serverConn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil
	}

	c := &serverConn{
		id:         t.nextID.Add(1),
		conn:       conn,
		outbox:     queue.NewLockFreeMPSC[frame](),
		writerDone: make(chan struct{}),
		timeout:    time.Duration(t.config.TimeoutSecond) * time.Second,
	}
	t.conns[c.id] = c
	t.connWg.Add(1)
	return c
}

// writeLoop writes all frames of the outbox to the socket. After a write
// error the socket is closed and remaining frames are discarded.
func (c *serverConn) writeLoop() {
	defer close(c.writerDone)

	var failed bool
	for f := range c.outbox.Recv() {
		if failed {
			continue
		}

		if c.timeout > 0 {
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
			}
		}

		if err := writeFrame(c.conn, f); err != nil {
			Logger.Errorf("Failed to write frame to %s: %v", c.RemoteAddr(), err)
			failed = true
			c.conn.Close()
		}
	}
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(c *serverConn) {
	defer t.connWg.Done()

	go c.writeLoop()

	Logger.Debugf("Accepted connection %d from %s", c.id, c.RemoteAddr())

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Handler function that processes requests in worker goroutines
	handleResponse := func(f frame) {
		// When done, release the semaphore and mark worker as done
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		// Process the request
		start := time.Now()
		resp := t.handler(c, f.channel, f.data)
		Logger.Debugf("Processed request %d on channel %d took %s", f.requestID, f.channel, time.Since(start))

		// Answer with the same requestID
		if !c.outbox.Push(frame{channel: f.channel, requestID: f.requestID, data: resp}) {
			Logger.Warningf("Dropped response %d, connection %d is closed", f.requestID, c.id)
		}
	}

	// Function to handle incoming requests
	handleRequest := func() error {
		if c.timeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
				return fmt.Errorf("failed to set read deadline: %w", err)
			}
		}

		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		// Read the frame with requestID
		f, err := readFrame(c.conn, buf)

		// Error reading frame
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
		workerSemaphore <- struct{}{}

		// Increment the wait group counter
		wg.Add(1)

		// Process in a goroutine
		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(f)
		}()

		return nil
	}

	// Handle requests in a loop
	for {
		err := handleRequest()

		// Case EOF: Connection closed by client
		if errors.Is(err, io.EOF) {
			Logger.Infof("Connection %d closed by client", c.id)
			break
		}

		// Case error: log and close connection
		if err != nil {
			if !t.closed.Load() {
				Logger.Errorf("Error handling request on connection %d: %v", c.id, err)
			}
			break
		}
	}

	// Wait for all workers to finish before cleaning up the connection
	wg.Wait()

	if t.closeHandler != nil {
		t.closeHandler(c)
	}

	// flush what is left and release the socket
	c.outbox.Close()
	<-c.writerDone
	c.conn.Close()

	t.mu.Lock()
	delete(t.conns, c.id)
	t.mu.Unlock()
}
