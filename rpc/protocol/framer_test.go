package protocol

import (
	"bytes"
	"encoding/binary"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"math/rand"
	"testing"
)

// testStream encodes several messages back to back and returns the stream and the single frames
func testStream(t *testing.T) ([]byte, [][]byte) {
	var stream []byte
	var frames [][]byte
	for _, key := range serializer.Keys() {
		id, err := serializer.IDOf(key)
		require.NoError(t, err)
		for _, msg := range testMessages(id) {
			frame, err := Encode(msg)
			require.NoError(t, err)
			frames = append(frames, frame)
			stream = append(stream, frame...)
		}
	}
	return stream, frames
}

// feed writes stream into a new framer using the given chunk sizes and returns the emitted frames
func feed(t *testing.T, stream []byte, nextChunk func() int) [][]byte {
	var got [][]byte
	f := NewFramer(func(frame []byte) { got = append(got, frame) })
	for len(stream) > 0 {
		n := min(nextChunk(), len(stream))
		written, err := f.Write(stream[:n])
		require.NoError(t, err)
		require.Equal(t, n, written)
		stream = stream[n:]
	}
	assert.Zero(t, f.Buffered())
	return got
}

func TestFramerChunking(t *testing.T) {
	stream, frames := testStream(t)

	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name  string
		chunk func() int
	}{
		{"one byte at a time", func() int { return 1 }},
		{"all at once", func() int { return len(stream) }},
		{"header sized", func() int { return HeaderLength }},
		{"random", func() int { return 1 + rng.Intn(64) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := feed(t, stream, tc.chunk)
			require.Len(t, got, len(frames))
			for i := range frames {
				assert.Equal(t, frames[i], got[i], "frame %d", i)
			}
		})
	}
}

func TestFramerAsWriter(t *testing.T) {
	stream, frames := testStream(t)

	var count int
	f := NewFramer(func(frame []byte) {
		msg, err := Decode(frame)
		require.NoError(t, err)
		assert.NotNil(t, msg)
		count++
	})

	_, err := io.Copy(f, bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, len(frames), count)
}

func TestFramerFramesAreIndependent(t *testing.T) {
	stream, _ := testStream(t)

	var got [][]byte
	f := NewFramer(func(frame []byte) { got = append(got, frame) })
	_, err := f.Write(stream)
	require.NoError(t, err)
	require.Greater(t, len(got), 1)

	// mutating one frame must not touch the next one
	before := append([]byte{}, got[1]...)
	for i := range got[0] {
		got[0][i] = 0xff
	}
	assert.Equal(t, before, got[1])
}

func TestFramerPartialFrameIsHeld(t *testing.T) {
	stream, frames := testStream(t)

	var count int
	f := NewFramer(func([]byte) { count++ })
	_, err := f.Write(stream[:len(frames[0])-1])
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, len(frames[0])-1, f.Buffered())

	_, err = f.Write(stream[len(frames[0])-1 : len(frames[0])])
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Zero(t, f.Buffered())
}

func TestFramerRejectsOversizedBody(t *testing.T) {
	header := make([]byte, HeaderLength)
	header[offsetMagic] = Magic
	header[offsetVersion] = Version
	binary.BigEndian.PutUint32(header[offsetBodyLength:], MaxBodyLength+1)

	f := NewFramer(func([]byte) { t.Fatal("handler must not be called") })
	_, err := f.Write(header)
	assert.ErrorIs(t, err, common.ErrProtocol)
}
