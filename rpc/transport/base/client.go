package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/protocol"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to address (host:port), it must honor the deadline of ctx
	Connect(ctx context.Context, address string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult completes one pending request
type responseResult struct {
	msg *protocol.ProtocolMessage
	err error
}

// clientConnection is the pooled connection to one remote address
type clientConnection struct {
	conn      net.Conn
	address   string
	writeMu   sync.Mutex
	pending   *xsync.MapOf[uint64, chan responseResult]
	active    atomic.Bool
	closeOnce sync.Once
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	serializerID  uint8
	connections   *xsync.MapOf[string, *clientConnection]
	dialLocks     *xsync.MapOf[string, *sync.Mutex]
	nextRequestID atomic.Uint64
	closed        atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector.
// Requests are encoded with the serializer named by config.Serializer.
func NewBaseClientTransport(connector IClientConnector, config common.ClientConfig) (transport.IRPCClientTransport, error) {
	serializerID, err := serializer.IDOf(config.Serializer)
	if err != nil {
		return nil, err
	}
	return &clientTransport{
		connector:    connector,
		config:       config,
		serializerID: serializerID,
		connections:  xsync.NewMapOf[string, *clientConnection](),
		dialLocks:    xsync.NewMapOf[string, *sync.Mutex](),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) DoRequest(ctx context.Context, req *common.Request, endpoint common.ServiceMetaInfo) (*common.Response, error) {
	msg, err := t.exchange(ctx, endpoint, func(requestID uint64) *protocol.ProtocolMessage {
		return protocol.NewRequestMessage(t.serializerID, requestID, req)
	})
	if err != nil {
		return nil, err
	}

	resp, ok := msg.Response()
	if !ok {
		return nil, fmt.Errorf("%w: %s answered request %d with a %s frame", common.ErrProtocol, endpoint.ServiceAddress(), msg.Header.RequestID, msg.Header.Type)
	}
	if msg.Header.Status != protocol.StatusOK && resp.Err == "" {
		resp.Err = fmt.Sprintf("server answered with status %d", msg.Header.Status)
	}
	return resp, nil
}

func (t *clientTransport) Ping(ctx context.Context, endpoint common.ServiceMetaInfo) (time.Duration, error) {
	start := time.Now()
	msg, err := t.exchange(ctx, endpoint, func(requestID uint64) *protocol.ProtocolMessage {
		return protocol.NewHeartbeatMessage(t.serializerID, requestID)
	})
	if err != nil {
		return 0, err
	}
	if msg.Header.Type != protocol.TypeHeartbeat {
		return 0, fmt.Errorf("%w: %s answered a heartbeat with a %s frame", common.ErrProtocol, endpoint.ServiceAddress(), msg.Header.Type)
	}
	return time.Since(start), nil
}

func (t *clientTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.connections.Range(func(address string, c *clientConnection) bool {
		t.evict(c, "shutdown", common.ErrClosed)
		return true
	})
	Logger.Infof("%s client transport closed", t.connector.GetName())
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// exchange sends the message built by build over the pooled connection to endpoint and waits for the answer.
// Connect, write and wait share one deadline: the configured timeout or the earlier deadline of ctx.
func (t *clientTransport) exchange(ctx context.Context, endpoint common.ServiceMetaInfo, build func(requestID uint64) *protocol.ProtocolMessage) (*protocol.ProtocolMessage, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: %s client transport", common.ErrClosed, t.connector.GetName())
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout())
	defer cancel()

	c, err := t.getConnection(ctx, endpoint.ServiceAddress())
	if err != nil {
		return nil, err
	}
	return t.roundTrip(ctx, c, build(t.nextRequestID.Add(1)))
}

// getConnection returns the active pooled connection to address or creates it.
// Concurrent first callers for the same address wait for a single dial.
func (t *clientTransport) getConnection(ctx context.Context, address string) (*clientConnection, error) {
	if c, ok := t.connections.Load(address); ok && c.active.Load() {
		return c, nil
	}

	lock, _ := t.dialLocks.LoadOrStore(address, &sync.Mutex{})
	lock.Lock()
	defer lock.Unlock()

	// another caller may have connected while we waited for the lock
	if c, ok := t.connections.Load(address); ok && c.active.Load() {
		return c, nil
	}

	conn, err := t.connector.Connect(ctx, address)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connect to %s: %v", common.ErrTimeout, address, err)
		}
		return nil, fmt.Errorf("%w: connect to %s: %v", common.ErrConnection, address, err)
	}
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: upgrade connection to %s: %v", common.ErrConnection, address, err)
	}

	c := &clientConnection{
		conn:    conn,
		address: address,
		pending: xsync.NewMapOf[uint64, chan responseResult](),
	}
	c.active.Store(true)
	t.connections.Store(address, c)
	go t.readLoop(c)

	Logger.Debugf("connected to %s using %s", address, t.connector.GetName())
	return c, nil
}

// roundTrip writes msg on c and waits for the response with the same request id.
// Exactly one of response delivery, timeout or connection failure completes the request.
func (t *clientTransport) roundTrip(ctx context.Context, c *clientConnection, msg *protocol.ProtocolMessage) (*protocol.ProtocolMessage, error) {
	requestID := msg.Header.RequestID
	frame, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}

	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, respCh)
	if !c.active.Load() {
		// evicted between lookup and registration
		c.pending.Delete(requestID)
		return nil, fmt.Errorf("%w: connection to %s was closed", common.ErrConnection, c.address)
	}

	var writeTimeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		writeTimeout = time.Until(deadline)
	}
	if err := writeFrame(c.conn, &c.writeMu, frame, writeTimeout); err != nil {
		c.pending.Delete(requestID)
		t.evict(c, "write", err)
		if isTimeoutError(err) {
			return nil, fmt.Errorf("%w: write request %d to %s: %v", common.ErrTimeout, requestID, c.address, err)
		}
		return nil, fmt.Errorf("%w: write request %d to %s: %v", common.ErrConnection, requestID, c.address, err)
	}

	select {
	case result := <-respCh:
		return result.msg, result.err
	case <-ctx.Done():
		if _, stillPending := c.pending.LoadAndDelete(requestID); !stillPending {
			// completed concurrently, the result is already buffered
			result := <-respCh
			return result.msg, result.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t.evict(c, "timeout", ctx.Err())
			return nil, fmt.Errorf("%w: no response from %s for request %d", common.ErrTimeout, c.address, requestID)
		}
		return nil, fmt.Errorf("%w: request %d to %s abandoned: %v", common.ErrConnection, requestID, c.address, ctx.Err())
	}
}

// readLoop feeds everything read from c into a framer until the connection fails
func (t *clientTransport) readLoop(c *clientConnection) {
	framer := protocol.NewFramer(func(frame []byte) {
		t.handleFrame(c, frame)
	})

	_, err := io.Copy(framer, c.conn)
	switch {
	case !c.active.Load():
		// evicted locally, the close is ours
	case err == nil || errors.Is(err, io.EOF):
		t.evict(c, "peer_closed", io.EOF)
	default:
		t.evict(c, "read", err)
	}
}

// handleFrame completes the pending request a frame belongs to
func (t *clientTransport) handleFrame(c *clientConnection, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		// a broken body only fails its own request
		header, headerErr := protocol.DecodeHeader(frame)
		if headerErr != nil {
			Logger.Warningf("dropping undecodable frame from %s: %v", c.address, err)
			return
		}
		c.complete(header.RequestID, responseResult{err: err})
		return
	}
	if !c.complete(msg.Header.RequestID, responseResult{msg: msg}) {
		Logger.Debugf("response from %s for unknown or expired request %d", c.address, msg.Header.RequestID)
	}
}

// evict removes c from the pool if it is still the pooled connection for its address,
// closes it and fails all of its pending requests. Repeated calls are no-ops.
func (t *clientTransport) evict(c *clientConnection, reason string, cause error) {
	c.closeOnce.Do(func() {
		c.active.Store(false)
		t.connections.Compute(c.address, func(old *clientConnection, loaded bool) (*clientConnection, bool) {
			// a replacement created concurrently must stay in the pool
			return old, !loaded || old == c
		})
		_ = c.conn.Close()

		failure := fmt.Errorf("%w: connection to %s lost (%s): %v", common.ErrConnection, c.address, reason, cause)
		if errors.Is(cause, common.ErrClosed) {
			failure = fmt.Errorf("%w: connection to %s", common.ErrClosed, c.address)
		}
		c.pending.Range(func(requestID uint64, _ chan responseResult) bool {
			c.complete(requestID, responseResult{err: failure})
			return true
		})

		metrics.GetOrCreateCounter(fmt.Sprintf(`drpc_client_connections_evicted_total{reason=%q}`, reason)).Inc()
		if isClosedError(cause) || errors.Is(cause, common.ErrClosed) {
			Logger.Debugf("connection to %s closed (%s)", c.address, reason)
		} else {
			Logger.Warningf("evicted connection to %s (%s): %v", c.address, reason, cause)
		}
	})
}

// complete delivers result to the waiter of requestID, it reports false if nobody waits for it
func (c *clientConnection) complete(requestID uint64, result responseResult) bool {
	respCh, ok := c.pending.LoadAndDelete(requestID)
	if !ok {
		return false
	}
	respCh <- result
	return true
}
