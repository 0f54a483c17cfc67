// Package serializer provides the body and argument serialization capabilities of
// the RPC framework. It defines a common interface, three implementations and the
// static table mapping serializer keys to the ids written into the frame header.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//     Every failure wraps common.ErrSerialization.
//
//   - binarySerializerImpl: Custom binary format for the protocol bodies (Request and
//     Response), plus strings, byte slices and encoding.BinaryMarshaler values. Uses a
//     flag-based approach to encode only present fields.
//
//   - gobSerializerImpl: Implementation using Go's gob encoding, works for any
//     gob-compatible value but produces larger payloads.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, the default. Useful for
//     debugging and interoperability, works for any JSON-compatible value.
//
//   - ByID / ByKey / IDOf: Lookup between the configuration key ("json", "gob",
//     "binary") and the header id (1, 2, 3).
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.ByKey("binary")
//	data, err := s.Serialize(&common.Request{ServiceName: "Echo", MethodName: "identity"})
//	var req common.Request
//	err = s.Deserialize(data, &req)
package serializer
