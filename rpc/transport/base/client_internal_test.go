package base

import (
	"context"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// pipeConnector hands out in-memory connections and counts the dials
type pipeConnector struct {
	dials atomic.Int32
	peers chan net.Conn
}

func (p *pipeConnector) Connect(_ context.Context, _ string) (net.Conn, error) {
	p.dials.Add(1)
	// slow dial so concurrent callers pile up on the lock
	time.Sleep(20 * time.Millisecond)
	local, remote := net.Pipe()
	p.peers <- remote
	return local, nil
}

func (p *pipeConnector) GetName() string { return "pipe" }

func (p *pipeConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

func newPipeTransport(t *testing.T) (*clientTransport, *pipeConnector) {
	connector := &pipeConnector{peers: make(chan net.Conn, 16)}
	tr, err := NewBaseClientTransport(connector, common.DefaultClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr.(*clientTransport), connector
}

func TestConcurrentFirstCallersShareOneDial(t *testing.T) {
	tr, connector := newPipeTransport(t)

	conns := make(chan *clientConnection, 10)
	for i := 0; i < 10; i++ {
		go func() {
			c, err := tr.getConnection(context.Background(), "10.0.0.1:8000")
			assert.NoError(t, err)
			conns <- c
		}()
	}

	first := <-conns
	for i := 1; i < 10; i++ {
		assert.Same(t, first, <-conns)
	}
	assert.Equal(t, int32(1), connector.dials.Load())
}

func TestEvictKeepsReplacement(t *testing.T) {
	tr, _ := newPipeTransport(t)

	old, err := tr.getConnection(context.Background(), "10.0.0.1:8000")
	require.NoError(t, err)

	// a replacement that was created while old was failing
	replacementConn, _ := net.Pipe()
	replacement := &clientConnection{conn: replacementConn, address: old.address, pending: xsync.NewMapOf[uint64, chan responseResult]()}
	replacement.active.Store(true)
	tr.connections.Store(old.address, replacement)

	tr.evict(old, "test", net.ErrClosed)
	current, ok := tr.connections.Load(old.address)
	require.True(t, ok)
	assert.Same(t, replacement, current)

	tr.evict(replacement, "test", net.ErrClosed)
	_, ok = tr.connections.Load(old.address)
	assert.False(t, ok)
}

func TestEvictFailsPendingRequests(t *testing.T) {
	tr, _ := newPipeTransport(t)
	c, err := tr.getConnection(context.Background(), "10.0.0.1:8000")
	require.NoError(t, err)

	respCh := make(chan responseResult, 1)
	c.pending.Store(42, respCh)
	tr.evict(c, "test", net.ErrClosed)

	select {
	case result := <-respCh:
		assert.ErrorIs(t, result.err, common.ErrConnection)
	case <-time.After(time.Second):
		t.Fatal("pending request was not completed")
	}
	assert.Equal(t, 0, c.pending.Size())
	assert.False(t, c.complete(42, responseResult{}))
}
