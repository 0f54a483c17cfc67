package protocol

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
)

// --------------------------------------------------------------------------
// Header layout
// --------------------------------------------------------------------------

// Frame layout (big endian):
// - 1 byte:  magic
// - 1 byte:  version
// - 1 byte:  serializer id
// - 1 byte:  message type
// - 8 bytes: request id
// - 1 byte:  status
// - 4 bytes: body length
// - N bytes: body
const (
	Magic        uint8 = 0x1
	Version      uint8 = 0x1
	HeaderLength       = 17

	offsetMagic      = 0
	offsetVersion    = 1
	offsetSerializer = 2
	offsetType       = 3
	offsetRequestID  = 4
	offsetStatus     = 12
	offsetBodyLength = 13

	// MaxBodyLength is the largest body a peer may announce
	MaxBodyLength = 16 << 20
)

// MessageType tells the peer how to interpret the body.
type MessageType uint8

const (
	TypeRequest   MessageType = 0
	TypeResponse  MessageType = 1
	TypeHeartbeat MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Status reports the outcome of a frame on the server side.
type Status uint8

const (
	StatusOK          Status = 20
	StatusBadRequest  Status = 40
	StatusBadResponse Status = 50
)

// Header is the fixed length part of every frame.
type Header struct {
	Magic      uint8
	Version    uint8
	Serializer uint8
	Type       MessageType
	RequestID  uint64
	Status     Status
	BodyLength uint32
}

// ProtocolMessage is one decoded frame. Body is *common.Request for requests,
// *common.Response for responses and nil for heartbeats.
type ProtocolMessage struct {
	Header Header
	Body   any
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequestMessage creates a request frame
func NewRequestMessage(serializerID uint8, requestID uint64, req *common.Request) *ProtocolMessage {
	return &ProtocolMessage{
		Header: Header{Magic: Magic, Version: Version, Serializer: serializerID, Type: TypeRequest, RequestID: requestID, Status: StatusOK},
		Body:   req,
	}
}

// NewResponseMessage creates the response frame for the request described by reqHeader
func NewResponseMessage(reqHeader Header, resp *common.Response, status Status) *ProtocolMessage {
	return &ProtocolMessage{
		Header: Header{Magic: Magic, Version: Version, Serializer: reqHeader.Serializer, Type: TypeResponse, RequestID: reqHeader.RequestID, Status: status},
		Body:   resp,
	}
}

// NewHeartbeatMessage creates a heartbeat frame, it has no body
func NewHeartbeatMessage(serializerID uint8, requestID uint64) *ProtocolMessage {
	return &ProtocolMessage{
		Header: Header{Magic: Magic, Version: Version, Serializer: serializerID, Type: TypeHeartbeat, RequestID: requestID, Status: StatusOK},
	}
}

// Request returns the request body if the message carries one
func (m *ProtocolMessage) Request() (*common.Request, bool) {
	req, ok := m.Body.(*common.Request)
	return req, ok
}

// Response returns the response body if the message carries one
func (m *ProtocolMessage) Response() (*common.Response, bool) {
	resp, ok := m.Body.(*common.Response)
	return resp, ok
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Encode serializes the body with the serializer named in the header and returns the complete frame.
// The header's BodyLength is set to the encoded body size.
func Encode(msg *ProtocolMessage) ([]byte, error) {
	var body []byte
	if msg.Header.Type != TypeHeartbeat {
		s, err := serializer.ByID(msg.Header.Serializer)
		if err != nil {
			return nil, err
		}
		if body, err = s.Serialize(msg.Body); err != nil {
			return nil, err
		}
	}
	if len(body) > MaxBodyLength {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds limit of %d bytes", common.ErrProtocol, len(body), MaxBodyLength)
	}
	msg.Header.BodyLength = uint32(len(body))

	frame := make([]byte, HeaderLength, HeaderLength+len(body))
	frame[offsetMagic] = msg.Header.Magic
	frame[offsetVersion] = msg.Header.Version
	frame[offsetSerializer] = msg.Header.Serializer
	frame[offsetType] = uint8(msg.Header.Type)
	binary.BigEndian.PutUint64(frame[offsetRequestID:], msg.Header.RequestID)
	frame[offsetStatus] = uint8(msg.Header.Status)
	binary.BigEndian.PutUint32(frame[offsetBodyLength:], msg.Header.BodyLength)

	return append(frame, body...), nil
}

// DecodeHeader parses and validates the fixed length header at the start of frame.
func DecodeHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderLength {
		return Header{}, fmt.Errorf("%w: frame of %d bytes is shorter than the header", common.ErrProtocol, len(frame))
	}

	h := Header{
		Magic:      frame[offsetMagic],
		Version:    frame[offsetVersion],
		Serializer: frame[offsetSerializer],
		Type:       MessageType(frame[offsetType]),
		RequestID:  binary.BigEndian.Uint64(frame[offsetRequestID:]),
		Status:     Status(frame[offsetStatus]),
		BodyLength: binary.BigEndian.Uint32(frame[offsetBodyLength:]),
	}

	switch {
	case h.Magic != Magic:
		return h, fmt.Errorf("%w: bad magic 0x%x", common.ErrProtocol, h.Magic)
	case h.Version != Version:
		return h, fmt.Errorf("%w: unsupported version %d", common.ErrProtocol, h.Version)
	case h.Type > TypeHeartbeat:
		return h, fmt.Errorf("%w: unknown message type %d", common.ErrProtocol, uint8(h.Type))
	case h.BodyLength > MaxBodyLength:
		return h, fmt.Errorf("%w: body length %d exceeds limit of %d bytes", common.ErrProtocol, h.BodyLength, MaxBodyLength)
	}
	return h, nil
}

// Decode parses one complete frame. The body length field must match the bytes following the header exactly.
func Decode(frame []byte) (*ProtocolMessage, error) {
	h, err := DecodeHeader(frame)
	if err != nil {
		return nil, err
	}
	if available := len(frame) - HeaderLength; uint64(available) != uint64(h.BodyLength) {
		return nil, fmt.Errorf("%w: header announces %d body bytes, frame holds %d", common.ErrProtocol, h.BodyLength, available)
	}

	msg := &ProtocolMessage{Header: h}
	if h.Type == TypeHeartbeat {
		return msg, nil
	}

	s, err := serializer.ByID(h.Serializer)
	if err != nil {
		return nil, err
	}

	body := frame[HeaderLength:]
	switch h.Type {
	case TypeRequest:
		req := &common.Request{}
		if err := s.Deserialize(body, req); err != nil {
			return nil, fmt.Errorf("%w: request %d: %w", common.ErrProtocol, h.RequestID, err)
		}
		msg.Body = req
	case TypeResponse:
		resp := &common.Response{}
		if err := s.Deserialize(body, resp); err != nil {
			return nil, fmt.Errorf("%w: response %d: %w", common.ErrProtocol, h.RequestID, err)
		}
		msg.Body = resp
	}
	return msg, nil
}
