package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	headerSize = 20

	// maxFrameSize bounds the payload a peer may announce
	maxFrameSize = 256 << 20
)

// frame is one unit on the wire
type frame struct {
	channel   uint64
	requestID uint64
	data      []byte
}

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: channel (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, f frame) error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], f.channel)
	binary.BigEndian.PutUint64(header[8:16], f.requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(f.data)))

	// header and payload are written with one syscall
	b := net.Buffers{header, f.data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer.
// If the buffer is too small, a new buffer is allocated for the payload.
// The returned data aliases buf whenever it fits.
func readFrame(conn net.Conn, buf []byte) (frame, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}

	if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
		return frame{}, err
	}

	f := frame{
		channel:   binary.BigEndian.Uint64(buf[:8]),
		requestID: binary.BigEndian.Uint64(buf[8:16]),
	}
	contentLength := binary.BigEndian.Uint32(buf[16:20])

	if contentLength == 0 {
		f.data = []byte{}
		return f, nil
	}
	if contentLength > maxFrameSize {
		return frame{}, fmt.Errorf("frame of %d bytes exceeds limit of %d bytes", contentLength, maxFrameSize)
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return frame{}, err
	}

	f.data = buf[:contentLength]
	return f, nil
}
