package base

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// writeFrame writes one encoded frame under mu, so frames of concurrent writers never interleave.
// A zero timeout disables the write deadline.
func writeFrame(conn net.Conn, mu *sync.Mutex, frame []byte, timeout time.Duration) error {
	mu.Lock()
	defer mu.Unlock()

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	_, err := conn.Write(frame)
	return err
}

// isClosedError reports whether err only signals that the connection was closed
func isClosedError(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// isTimeoutError reports whether err is a deadline error of a net.Conn
func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
