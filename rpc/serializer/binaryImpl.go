package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	MsgType (1 byte) | flags (2 bytes) | present fields in flag order
//
// Integers are big endian, strings and byte slices are prefixed with a
// 4 byte length. Zero fields are omitted, a non nil empty Value is kept.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasTransactionID uint16 = 1 << iota
	hasRequestID
	hasAlgorithmID
	hasVersion
	hasAlgorithmType
	hasClientUID
	hasOperationID
	hasOptionType
	hasValue
	hasRetCode
	hasErr
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if err := checkMessageType(msg.MsgType); err != nil {
		return nil, err
	}
	w := binaryWriter{buf: make([]byte, headerSize, b.sizeBytes(msg))}
	w.buf[0] = byte(msg.MsgType)

	var flags uint16
	if msg.TransactionID != 0 {
		flags |= hasTransactionID
		w.uint64(msg.TransactionID)
	}
	if msg.RequestID != 0 {
		flags |= hasRequestID
		w.uint64(msg.RequestID)
	}
	if msg.AlgorithmID != "" {
		flags |= hasAlgorithmID
		w.bytes([]byte(msg.AlgorithmID))
	}
	if msg.Version != 0 {
		flags |= hasVersion
		w.uint64(uint64(msg.Version))
	}
	if msg.AlgorithmType != 0 {
		flags |= hasAlgorithmType
		w.uint32(uint32(msg.AlgorithmType))
	}
	if msg.ClientUID != "" {
		flags |= hasClientUID
		w.bytes([]byte(msg.ClientUID))
	}
	if msg.OperationID != 0 {
		flags |= hasOperationID
		w.uint32(uint32(msg.OperationID))
	}
	if msg.OptionType != 0 {
		flags |= hasOptionType
		w.uint32(uint32(msg.OptionType))
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.RetCode != core.CodeOK {
		flags |= hasRetCode
		w.buf = append(w.buf, byte(msg.RetCode))
	}
	if msg.Err != "" {
		flags |= hasErr
		w.bytes([]byte(msg.Err))
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(w.buf[1:3], flags)
	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	if err := checkMessageType(msg.MsgType); err != nil {
		return err
	}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := binaryReader{data: data, pos: headerSize}

	msg.TransactionID = 0
	if flags&hasTransactionID != 0 {
		msg.TransactionID = r.uint64("transaction id")
	}
	msg.RequestID = 0
	if flags&hasRequestID != 0 {
		msg.RequestID = r.uint64("request id")
	}
	msg.AlgorithmID = ""
	if flags&hasAlgorithmID != 0 {
		msg.AlgorithmID = string(r.bytes("algorithm id"))
	}
	msg.Version = 0
	if flags&hasVersion != 0 {
		msg.Version = int64(r.uint64("version"))
	}
	msg.AlgorithmType = 0
	if flags&hasAlgorithmType != 0 {
		msg.AlgorithmType = int32(r.uint32("algorithm type"))
	}
	msg.ClientUID = ""
	if flags&hasClientUID != 0 {
		msg.ClientUID = string(r.bytes("client uid"))
	}
	msg.OperationID = 0
	if flags&hasOperationID != 0 {
		msg.OperationID = int32(r.uint32("operation id"))
	}
	msg.OptionType = 0
	if flags&hasOptionType != 0 {
		msg.OptionType = int32(r.uint32("option type"))
	}

	if flags&hasValue != 0 {
		value := r.bytes("value")
		// Reuse the buffer of msg if it is large enough
		if msg.Value == nil || cap(msg.Value) < len(value) {
			msg.Value = make([]byte, len(value))
		} else {
			msg.Value = msg.Value[:len(value)]
		}
		copy(msg.Value, value)
	} else {
		msg.Value = nil
	}

	msg.RetCode = core.CodeOK
	if flags&hasRetCode != 0 {
		msg.RetCode = core.Code(r.byte("ret code"))
	}
	msg.Err = ""
	if flags&hasErr != 0 {
		msg.Err = string(r.bytes("error"))
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.TransactionID != 0 {
		size += 8
	}
	if msg.RequestID != 0 {
		size += 8
	}
	if msg.AlgorithmID != "" {
		size += 4 + len(msg.AlgorithmID)
	}
	if msg.Version != 0 {
		size += 8
	}
	if msg.AlgorithmType != 0 {
		size += 4
	}
	if msg.ClientUID != "" {
		size += 4 + len(msg.ClientUID)
	}
	if msg.OperationID != 0 {
		size += 4
	}
	if msg.OptionType != 0 {
		size += 4
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.RetCode != core.CodeOK {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}

// binaryWriter appends big endian fields to a buffer
type binaryWriter struct {
	buf []byte
}

func (w *binaryWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *binaryWriter) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *binaryWriter) bytes(v []byte) {
	w.uint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// binaryReader reads big endian fields. After the first short read every
// further read returns zero values and err holds the cause.
type binaryReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binaryReader) next(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *binaryReader) byte(field string) byte {
	if b := r.next(1, field); b != nil {
		return b[0]
	}
	return 0
}

func (r *binaryReader) uint32(field string) uint32 {
	if b := r.next(4, field); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *binaryReader) uint64(field string) uint64 {
	if b := r.next(8, field); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *binaryReader) bytes(field string) []byte {
	n := r.uint32(field + " length")
	if r.err != nil {
		return nil
	}
	if b := r.next(int(n), field); b != nil {
		return b
	}
	return []byte{}
}
