package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding.
// Message types are encoded by name.
func NewJSONSerializer() IRPCSerializer {
	return &codecSerializerImpl{
		encode: func(msg *common.Message) ([]byte, error) {
			return json.Marshal(msg)
		},
		decode: json.Unmarshal,
	}
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &codecSerializerImpl{
		encode: func(msg *common.Message) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decode: func(data []byte, v any) error {
			return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
		},
	}
}

// codecSerializerImpl implements the IRPCSerializer interface on top of an
// encoding package of the standard library. Messages of an unknown type are
// rejected in both directions.
type codecSerializerImpl struct {
	encode func(msg *common.Message) ([]byte, error)
	decode func(data []byte, v any) error
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (c codecSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if err := checkMessageType(msg.MsgType); err != nil {
		return nil, err
	}
	return c.encode(&msg)
}

func (c codecSerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// gob leaves fields that are zero on the wire untouched
	*msg = common.Message{}
	if err := c.decode(data, msg); err != nil {
		return err
	}
	return checkMessageType(msg.MsgType)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func checkMessageType(t common.MessageType) error {
	if !t.Valid() {
		return fmt.Errorf("message type %d: %w", t, core.ErrInvalidArgument)
	}
	return nil
}
