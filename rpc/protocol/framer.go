package protocol

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// Framer reassembles complete frames from an arbitrarily chunked byte stream.
// It implements io.Writer so a connection can be copied into it. The handler is
// called exactly once per frame, in stream order, with a slice the handler owns.
//
// A Framer keeps per stream state and must not be shared between connections.
type Framer struct {
	handler func(frame []byte)
	buf     []byte
	// target is HeaderLength while reading the header and HeaderLength+bodyLength while reading the body
	target int
	inBody bool
}

// NewFramer creates a framer that passes every complete frame to handler
func NewFramer(handler func(frame []byte)) *Framer {
	return &Framer{
		handler: handler,
		buf:     make([]byte, 0, HeaderLength),
		target:  HeaderLength,
	}
}

// Write consumes p and emits every frame completed by it.
// A body length above MaxBodyLength is a protocol error, the stream can not be resynchronized afterwards.
func (f *Framer) Write(p []byte) (int, error) {
	consumed := 0
	for len(p) > 0 {
		take := min(f.target-len(f.buf), len(p))
		f.buf = append(f.buf, p[:take]...)
		p = p[take:]
		consumed += take

		if len(f.buf) < f.target {
			break
		}

		if !f.inBody {
			bodyLength := binary.BigEndian.Uint32(f.buf[offsetBodyLength:HeaderLength])
			if bodyLength > MaxBodyLength {
				f.reset()
				return consumed, fmt.Errorf("%w: body length %d exceeds limit of %d bytes", common.ErrProtocol, bodyLength, MaxBodyLength)
			}
			f.inBody = true
			f.target = HeaderLength + int(bodyLength)
			if bodyLength > 0 {
				// grow once to the full frame size
				grown := make([]byte, len(f.buf), f.target)
				copy(grown, f.buf)
				f.buf = grown
				continue
			}
		}

		f.emit()
	}
	return consumed, nil
}

// Buffered returns the number of bytes of the incomplete frame currently held
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func (f *Framer) emit() {
	frame := f.buf
	f.reset()
	f.handler(frame)
}

func (f *Framer) reset() {
	f.buf = make([]byte, 0, HeaderLength)
	f.target = HeaderLength
	f.inBody = false
}
