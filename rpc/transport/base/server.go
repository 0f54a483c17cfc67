package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/protocol"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const readBufferSize = 32 * 1024

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	listener   net.Listener
	bufferPool *sync.Pool

	conns     *xsync.MapOf[net.Conn, struct{}]
	connWg    sync.WaitGroup
	closing   atomic.Bool
	closeOnce sync.Once
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with a per-connection worker limit
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[net.Conn, struct{}](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, readBufferSize)
				return &buf
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

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if config.MaxWorkersPerConn < 1 {
		// minimum one worker per connection
		config.MaxWorkersPerConn = 1
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("%w: failed to create listener: %v", common.ErrConnection, err)
	}
	t.listener = listener

	Logger.Infof("%s server listening on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), config.MaxWorkersPerConn)
	return nil
}

func (t *serverTransport) Serve() error {
	if t.listener == nil {
		return fmt.Errorf("%w: %s server is not listening", common.ErrClosed, t.connector.GetName())
	}
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closing.Load() {
				return nil
			}
			if isTimeoutError(err) {
				Logger.Warningf("accept error: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%w: accept: %v", common.ErrConnection, err)
		}

		t.connWg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		if t.listener != nil {
			err = t.listener.Close()
		}

		// unblock all readers, running handlers still write their responses
		t.conns.Range(func(conn net.Conn, _ struct{}) bool {
			_ = conn.SetReadDeadline(time.Now())
			return true
		})
		t.connWg.Wait()
		Logger.Infof("%s server closed", t.connector.GetName())
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads frames from one connection until it fails, handlers run concurrently
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer t.connWg.Done()
	t.conns.Store(conn, struct{}{})
	defer t.conns.Delete(conn)
	defer conn.Close()

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		Logger.Warningf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
	}
	if t.closing.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idleTimeout := time.Duration(t.config.IdleTimeoutSecond) * time.Second
	writeTimeout := time.Duration(t.config.WriteTimeoutMillisecond) * time.Millisecond

	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.config.MaxWorkersPerConn)
	var wg sync.WaitGroup
	var writeMu sync.Mutex

	framer := protocol.NewFramer(func(frame []byte) {
		// blocks the reader while maxWorkersPerConn handlers are running
		workerSemaphore <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-workerSemaphore
				wg.Done()
			}()
			reply := t.handleFrame(ctx, conn, frame)
			if reply == nil {
				return
			}
			if err := writeFrame(conn, &writeMu, reply, writeTimeout); err != nil {
				Logger.Errorf("failed to write response to %s: %v", conn.RemoteAddr(), err)
			}
		}()
	})

	bufPtr := t.bufferPool.Get().(*[]byte)
	defer t.bufferPool.Put(bufPtr)
	buf := *bufPtr

	for {
		if idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				Logger.Errorf("failed to set read deadline: %v", err)
				break
			}
			// Close may have reset the deadline before it was overwritten
			if t.closing.Load() {
				break
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if _, ferr := framer.Write(buf[:n]); ferr != nil {
				Logger.Errorf("closing connection from %s: %v", conn.RemoteAddr(), ferr)
				break
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				Logger.Debugf("connection closed by peer %s", conn.RemoteAddr())
			case t.closing.Load():
				Logger.Debugf("closing connection from %s on shutdown", conn.RemoteAddr())
			case isTimeoutError(err):
				Logger.Debugf("closing idle connection from %s", conn.RemoteAddr())
			default:
				Logger.Errorf("error reading from %s: %v", conn.RemoteAddr(), err)
			}
			break
		}
	}

	// running handlers still answer before the connection is closed
	wg.Wait()
}

// handleFrame turns one request frame into the encoded reply, nil means no reply is sent
func (t *serverTransport) handleFrame(ctx context.Context, conn net.Conn, frame []byte) []byte {
	var reply *protocol.ProtocolMessage

	msg, err := protocol.Decode(frame)
	switch {
	case err != nil:
		header, headerErr := protocol.DecodeHeader(frame)
		if headerErr != nil || header.Type != protocol.TypeRequest {
			Logger.Warningf("dropping frame from %s: %v", conn.RemoteAddr(), err)
			return nil
		}
		if _, serErr := serializer.ByID(header.Serializer); serErr != nil {
			// answer in a serializer every client understands
			header.Serializer = serializer.IDJSON
		}
		Logger.Warningf("bad request %d from %s: %v", header.RequestID, conn.RemoteAddr(), err)
		reply = protocol.NewResponseMessage(header, common.NewErrorResponse(err), protocol.StatusBadRequest)

	case msg.Header.Type == protocol.TypeHeartbeat:
		reply = protocol.NewHeartbeatMessage(msg.Header.Serializer, msg.Header.RequestID)

	case msg.Header.Type == protocol.TypeRequest:
		req, _ := msg.Request()
		s, _ := serializer.ByID(msg.Header.Serializer)
		start := time.Now()
		resp := t.handler(ctx, req, s)
		Logger.Debugf("request %d for %s.%s took %s", msg.Header.RequestID, req.ServiceName, req.MethodName, time.Since(start))
		reply = protocol.NewResponseMessage(msg.Header, resp, protocol.StatusOK)

	default:
		Logger.Warningf("unexpected %s frame from %s", msg.Header.Type, conn.RemoteAddr())
		return nil
	}

	out, err := protocol.Encode(reply)
	if err != nil {
		Logger.Errorf("failed to encode response %d: %v", reply.Header.RequestID, err)
		out, err = protocol.Encode(protocol.NewResponseMessage(reply.Header, common.NewErrorResponse(err), protocol.StatusBadResponse))
		if err != nil {
			Logger.Errorf("failed to encode error response %d: %v", reply.Header.RequestID, err)
			return nil
		}
	}
	return out
}
