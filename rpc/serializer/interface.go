package serializer

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// IRPCSerializer is the interface for all body and argument serializers.
// Implementations are stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes v into a byte array
	// It returns an error wrapping common.ErrSerialization if v cannot be encoded
	Serialize(v any) ([]byte, error)
	// Deserialize decodes b into the value pointed to by v
	// It returns an error wrapping common.ErrSerialization on malformed input or type mismatch
	Deserialize(b []byte, v any) error
}

// --------------------------------------------------------------------------
// Serializer keys and wire ids
// --------------------------------------------------------------------------

const (
	KeyJSON   = "json"
	KeyGOB    = "gob"
	KeyBinary = "binary"
)

// Wire ids written into the protocol header. 0 is never a valid id.
const (
	IDJSON   uint8 = 1
	IDGOB    uint8 = 2
	IDBinary uint8 = 3
)

type entry struct {
	key        string
	serializer IRPCSerializer
}

// table is immutable after package initialization
var table = map[uint8]entry{
	IDJSON:   {KeyJSON, NewJSONSerializer()},
	IDGOB:    {KeyGOB, NewGOBSerializer()},
	IDBinary: {KeyBinary, NewBinarySerializer()},
}

// ByID returns the serializer for a header id.
func ByID(id uint8) (IRPCSerializer, error) {
	e, ok := table[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown serializer id %d", common.ErrProtocol, id)
	}
	return e.serializer, nil
}

// IDOf returns the header id for a serializer key.
func IDOf(key string) (uint8, error) {
	for id, e := range table {
		if e.key == key {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown serializer %q", common.ErrSerialization, key)
}

// ByKey returns the serializer registered under key.
func ByKey(key string) (IRPCSerializer, error) {
	id, err := IDOf(key)
	if err != nil {
		return nil, err
	}
	return table[id].serializer, nil
}

// Keys returns the known serializer keys.
func Keys() []string {
	return []string{KeyJSON, KeyGOB, KeyBinary}
}
