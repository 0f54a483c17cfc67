package serializer

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"sort"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for the protocol bodies. Besides Request and Response it handles
// strings, byte slices and values implementing encoding.BinaryMarshaler.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// The first byte of every encoding names the kind of value that follows
const (
	kindRequest  byte = 1
	kindResponse byte = 2
	kindBytes    byte = 3
	kindString   byte = 4
	kindBinary   byte = 5
)

// Bit flags to indicate which optional request fields are present
const (
	hasService    byte = 1 << 0
	hasVersion    byte = 1 << 1
	hasMethod     byte = 1 << 2
	hasParamTypes byte = 1 << 3
	hasArgs       byte = 1 << 4
	hasMeta       byte = 1 << 5
)

// Bit flags to indicate which optional response fields are present
const (
	hasData     byte = 1 << 0
	hasDataType byte = 1 << 1
	hasMessage  byte = 1 << 2
	hasErr      byte = 1 << 3
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(v any) ([]byte, error) {
	switch val := v.(type) {
	case *common.Request:
		return encodeRequest(val), nil
	case common.Request:
		return encodeRequest(&val), nil
	case *common.Response:
		return encodeResponse(val), nil
	case common.Response:
		return encodeResponse(&val), nil
	case []byte:
		w := newWriter(kindBytes, 0, 4+len(val))
		w.bytes(val)
		return w.buf, nil
	case string:
		w := newWriter(kindString, 0, 4+len(val))
		w.string(val)
		return w.buf, nil
	case encoding.BinaryMarshaler:
		data, err := val.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("%w: binary: %v", common.ErrSerialization, err)
		}
		w := newWriter(kindBinary, 0, 4+len(data))
		w.bytes(data)
		return w.buf, nil
	default:
		return nil, fmt.Errorf("%w: binary: unsupported type %T", common.ErrSerialization, v)
	}
}

func (b binarySerializerImpl) Deserialize(data []byte, v any) error {
	// Check minimum size (kind + flags)
	if len(data) < 2 {
		return fmt.Errorf("%w: binary: data too short for header", common.ErrSerialization)
	}
	r := &reader{data: data, pos: 2}
	kind, flags := data[0], data[1]

	var err error
	switch target := v.(type) {
	case *common.Request:
		if err = expectKind(kind, kindRequest, v); err == nil {
			err = decodeRequest(r, flags, target)
		}
	case *common.Response:
		if err = expectKind(kind, kindResponse, v); err == nil {
			err = decodeResponse(r, flags, target)
		}
	case *[]byte:
		if err = expectKind(kind, kindBytes, v); err == nil {
			*target, err = r.bytes()
		}
	case *string:
		if err = expectKind(kind, kindString, v); err == nil {
			*target, err = r.string()
		}
	case encoding.BinaryUnmarshaler:
		if err = expectKind(kind, kindBinary, v); err == nil {
			var raw []byte
			if raw, err = r.bytes(); err == nil {
				err = target.UnmarshalBinary(raw)
			}
		}
	default:
		err = fmt.Errorf("unsupported target %T", v)
	}

	if err != nil {
		return fmt.Errorf("%w: binary: %v", common.ErrSerialization, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Body encoding
// --------------------------------------------------------------------------

func encodeRequest(req *common.Request) []byte {
	w := newWriter(kindRequest, 0, requestSize(req))
	var flags byte

	if req.ServiceName != "" {
		flags |= hasService
		w.string(req.ServiceName)
	}
	if req.ServiceVersion != "" {
		flags |= hasVersion
		w.string(req.ServiceVersion)
	}
	if req.MethodName != "" {
		flags |= hasMethod
		w.string(req.MethodName)
	}
	if len(req.ParameterTypeNames) > 0 {
		flags |= hasParamTypes
		w.uint32(uint32(len(req.ParameterTypeNames)))
		for _, name := range req.ParameterTypeNames {
			w.string(name)
		}
	}
	if len(req.Args) > 0 {
		flags |= hasArgs
		w.uint32(uint32(len(req.Args)))
		for _, arg := range req.Args {
			w.bytes(arg)
		}
	}
	if len(req.Meta) > 0 {
		flags |= hasMeta
		w.uint32(uint32(len(req.Meta)))
		// sorted for a deterministic encoding
		keys := make([]string, 0, len(req.Meta))
		for k := range req.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w.string(k)
			w.string(req.Meta[k])
		}
	}

	// Set flags byte after knowing which fields are present
	w.buf[1] = flags
	return w.buf
}

func decodeRequest(r *reader, flags byte, req *common.Request) (err error) {
	*req = common.Request{}

	if flags&hasService != 0 {
		if req.ServiceName, err = r.string(); err != nil {
			return err
		}
	}
	if flags&hasVersion != 0 {
		if req.ServiceVersion, err = r.string(); err != nil {
			return err
		}
	}
	if flags&hasMethod != 0 {
		if req.MethodName, err = r.string(); err != nil {
			return err
		}
	}
	if flags&hasParamTypes != 0 {
		n, err := r.count()
		if err != nil {
			return err
		}
		req.ParameterTypeNames = make([]string, n)
		for i := range req.ParameterTypeNames {
			if req.ParameterTypeNames[i], err = r.string(); err != nil {
				return err
			}
		}
	}
	if flags&hasArgs != 0 {
		n, err := r.count()
		if err != nil {
			return err
		}
		req.Args = make([][]byte, n)
		for i := range req.Args {
			if req.Args[i], err = r.bytes(); err != nil {
				return err
			}
		}
	}
	if flags&hasMeta != 0 {
		n, err := r.count()
		if err != nil {
			return err
		}
		req.Meta = make(map[string]string, n)
		for i := 0; i < n; i++ {
			k, err := r.string()
			if err != nil {
				return err
			}
			if req.Meta[k], err = r.string(); err != nil {
				return err
			}
		}
	}
	return r.done()
}

func encodeResponse(resp *common.Response) []byte {
	w := newWriter(kindResponse, 0, responseSize(resp))
	var flags byte

	if resp.Data != nil {
		flags |= hasData
		w.bytes(resp.Data)
	}
	if resp.DataTypeName != "" {
		flags |= hasDataType
		w.string(resp.DataTypeName)
	}
	if resp.Message != "" {
		flags |= hasMessage
		w.string(resp.Message)
	}
	if resp.Err != "" {
		flags |= hasErr
		w.string(resp.Err)
	}

	w.buf[1] = flags
	return w.buf
}

func decodeResponse(r *reader, flags byte, resp *common.Response) (err error) {
	*resp = common.Response{}

	if flags&hasData != 0 {
		if resp.Data, err = r.bytes(); err != nil {
			return err
		}
	}
	if flags&hasDataType != 0 {
		if resp.DataTypeName, err = r.string(); err != nil {
			return err
		}
	}
	if flags&hasMessage != 0 {
		if resp.Message, err = r.string(); err != nil {
			return err
		}
	}
	if flags&hasErr != 0 {
		if resp.Err, err = r.string(); err != nil {
			return err
		}
	}
	return r.done()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func expectKind(got, want byte, target any) error {
	if got != want {
		return fmt.Errorf("cannot decode kind %d into %T", got, target)
	}
	return nil
}

// requestSize calculates the total size needed for serialization
func requestSize(req *common.Request) int {
	size := 2
	size += 4 + len(req.ServiceName)
	size += 4 + len(req.ServiceVersion)
	size += 4 + len(req.MethodName)
	size += 4
	for _, name := range req.ParameterTypeNames {
		size += 4 + len(name)
	}
	size += 4
	for _, arg := range req.Args {
		size += 4 + len(arg)
	}
	size += 4
	for k, v := range req.Meta {
		size += 8 + len(k) + len(v)
	}
	return size
}

func responseSize(resp *common.Response) int {
	return 2 + 16 + len(resp.Data) + len(resp.DataTypeName) + len(resp.Message) + len(resp.Err)
}

// writer appends length prefixed fields to a preallocated buffer
type writer struct {
	buf []byte
}

func newWriter(kind, flags byte, sizeHint int) *writer {
	buf := make([]byte, 2, sizeHint+2)
	buf[0], buf[1] = kind, flags
	return &writer{buf: buf}
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// reader consumes length prefixed fields and checks every bound
type reader struct {
	data []byte
	pos  int
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("data too short for length at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// count reads an element count, each element needs at least 4 bytes
func (r *reader) count() (int, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if int(n) > (len(r.data)-r.pos)/4 {
		return 0, fmt.Errorf("element count %d exceeds remaining data", n)
	}
	return int(n), nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("data too short for %d bytes at offset %d", n, r.pos)
	}
	// create an empty slice (not nil) if length is 0
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.data) {
		return "", fmt.Errorf("data too short for %d bytes at offset %d", n, r.pos)
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) done() error {
	if r.pos != len(r.data) {
		return fmt.Errorf("%d trailing bytes", len(r.data)-r.pos)
	}
	return nil
}
