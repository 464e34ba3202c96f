// Package serializer provides message serialization for the broker's RPC
// layer. It defines a common interface and multiple implementations for
// serializing and deserializing messages between clients and the server.
//
// All serializers encode the same flat common.Message, the broker and its
// clients must be configured with the same one (--serializer).
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format implementation optimized for speed
//     and space efficiency. A 16 bit flag set marks the present fields, only those
//     are encoded, so small control messages stay a few bytes long while
//     inference payloads are copied once.
//
//   - codecSerializerImpl: Wraps an encoding package of the standard library,
//     NewJSONSerializer and NewGOBSerializer return it with json and gob.
//
// Every serializer rejects messages whose type is not part of the protocol
// with core.ErrInvalidArgument, on encode as well as on decode.
//
// Choosing a serializer:
//
//   - Binary is the default. Inference payloads (images, audio frames, tensors)
//     dominate the message size and are written without any re-encoding.
//
//   - JSON base64 encodes payloads. Use it to inspect traffic while debugging.
//
//   - GOB sends type information with every message because a fresh encoder is
//     used per message. It is kept for compatibility and has no advantage here.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	Serializers are typically created once and reused throughout the application:
//
//	  serializer := serializer.NewBinarySerializer()
//	  data, err := serializer.Serialize(message)
//	  // ... send data ...
//	  var receivedMsg common.Message
//	  err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
