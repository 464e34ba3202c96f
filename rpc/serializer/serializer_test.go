package serializer

import (
	"bytes"
	"encoding/gob"
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Start engine request
		*common.NewStartEngineRequest(1<<63+5, core.AlgoInfo{AlgorithmID: "kws", Version: 2}, "client-1", []byte("model.bin")),

		// Execute request
		*common.NewSyncExecuteRequest(&core.Request{
			RequestID:     11,
			OperationID:   -1,
			TransactionID: 42,
			AlgorithmType: 3,
			ClientUID:     "client-1",
			Payload:       []byte("audio"),
		}),

		// Asynchronous reply with an error
		*common.NewAsyncReply(&core.Response{
			RequestID:     12,
			TransactionID: 42,
			RetCode:       core.CodeOperationFailed,
			RetDesc:       "plugin failed",
		}),

		// Error response
		*common.NewErrorResponse(core.ErrEngineNotFound),

		// Message with all fields filled
		{
			MsgType:       common.MsgTGetOption,
			TransactionID: 42,
			RequestID:     7,
			AlgorithmID:   "asr",
			Version:       -1,
			AlgorithmType: 4,
			ClientUID:     "uid",
			OperationID:   9,
			OptionType:    -5,
			Value:         []byte("value"),
			RetCode:       core.CodeDeadlineExceeded,
			Err:           "timed out",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// MsgTUnknown is not tested since it can not be encoded as JSON
			for msgType := common.MsgTSuccess; msgType <= common.MsgTStats; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
		size int // expected encoded size, 0 skips the check
	}{
		{
			name: "Type only",
			msg:  common.Message{MsgType: common.MsgTSuccess},
			size: 3,
		},
		{
			name: "Empty value slice is kept",
			msg: common.Message{
				MsgType: common.MsgTSyncExecute,
				Value:   []byte{},
			},
			size: 3 + 4,
		},
		{
			name: "Nil value stays nil",
			msg: common.Message{
				MsgType:       common.MsgTStopEngine,
				TransactionID: 1,
			},
			size: 3 + 8,
		},
		{
			name: "Negative integers",
			msg: common.Message{
				MsgType:     common.MsgTSyncExecute,
				OperationID: -1,
				OptionType:  -2,
				Version:     -3,
			},
			size: 3 + 4 + 4 + 8,
		},
		{
			name: "Reused destination buffer",
			msg: common.Message{
				MsgType: common.MsgTSyncExecute,
				Value:   []byte("ab"),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			if tc.size > 0 && len(data) != tc.size {
				t.Errorf("Size mismatch: expected %d bytes, got %d", tc.size, len(data))
			}

			// The destination holds stale values that must be overwritten
			result := common.Message{
				AlgorithmID: "stale",
				Err:         "stale",
				RetCode:     core.CodeNotFound,
				Value:       []byte("stale value"),
			}
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if tc.msg.MsgType != result.MsgType ||
				tc.msg.TransactionID != result.TransactionID ||
				tc.msg.OperationID != result.OperationID ||
				tc.msg.OptionType != result.OptionType ||
				tc.msg.Version != result.Version ||
				tc.msg.AlgorithmID != result.AlgorithmID ||
				tc.msg.RetCode != result.RetCode ||
				tc.msg.Err != result.Err {
				t.Errorf("Field mismatch:\nOriginal: %+v\nResult: %+v", tc.msg, result)
			}

			if (tc.msg.Value == nil) != (result.Value == nil) {
				t.Errorf("Value nil/non-nil mismatch: expected %v, got %v", tc.msg.Value, result.Value)
			} else if !bytes.Equal(tc.msg.Value, result.Value) {
				t.Errorf("Value mismatch: expected %q, got %q", tc.msg.Value, result.Value)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half of the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Truncated transaction id",
			data:        []byte{1, 0, 1, 0, 0, 0}, // Claims a transaction id but only 3 bytes follow
			expectError: true,
		},
		{
			name:        "Invalid length for algorithm id",
			data:        []byte{1, 0, 4, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 1, 0, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Missing ret code",
			data:        []byte{1, 2, 0}, // Claims a ret code but the data ends
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestUnknownMessageType checks that no serializer encodes or decodes a message
// whose type is not part of the protocol
func TestUnknownMessageType(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, msgType := range []common.MessageType{common.MsgTUnknown, common.MsgTStats + 1, 255} {
				if _, err := serializer.Serialize(common.Message{MsgType: msgType, TransactionID: 1}); !errors.Is(err, core.ErrInvalidArgument) {
					t.Errorf("Serialize of type %d: expected invalid argument, got %v", msgType, err)
				}
			}
		})
	}

	var gobData bytes.Buffer
	if err := gob.NewEncoder(&gobData).Encode(common.Message{MsgType: 200, TransactionID: 1}); err != nil {
		t.Fatalf("Failed to encode gob message: %v", err)
	}

	decodeCases := []struct {
		name       string
		serializer IRPCSerializer
		data       []byte
	}{
		{"Binary out of range", NewBinarySerializer(), []byte{200, 0, 0}},
		{"Binary unknown", NewBinarySerializer(), []byte{0, 0, 0}},
		{"GOB out of range", NewGOBSerializer(), gobData.Bytes()},
		{"JSON without type", NewJSONSerializer(), []byte(`{"transaction_id":1}`)},
	}

	for _, tc := range decodeCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			if err := tc.serializer.Deserialize(tc.data, &msg); !errors.Is(err, core.ErrInvalidArgument) {
				t.Errorf("Expected invalid argument, got %v", err)
			}
		})
	}
}

// TestDeserializeResetsMessage checks that fields of a reused message do not
// survive a decode of a message that leaves them empty
func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			msg := common.Message{MsgType: common.MsgTError, TransactionID: 9, Err: "stale", Value: []byte("stale")}
			if err := serializer.Deserialize(data, &msg); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if !reflect.DeepEqual(common.Message{MsgType: common.MsgTSuccess}, msg) {
				t.Errorf("Expected a clean success message, got %+v", msg)
			}
		})
	}
}
