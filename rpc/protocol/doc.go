// Package protocol implements the binary wire format shared by client and server.
//
// Every frame starts with a fixed 17 byte big endian header followed by a body of
// BodyLength bytes encoded with the serializer named in the header:
//
//	offset  size  field
//	0       1     magic (0x1)
//	1       1     version (0x1)
//	2       1     serializer id
//	3       1     message type (REQUEST, RESPONSE, HEARTBEAT)
//	4       8     request id
//	12      1     status (20 ok, 40 bad request, 50 bad response)
//	13      4     body length
//
// Encode and Decode are pure functions. Framer turns a TCP byte stream into complete
// frames and is used once per connection by both transport engines.
package protocol
