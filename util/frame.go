package util

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MaxFrameSize bounds a single frame body. A header announcing more than
// this is treated as a corrupt stream.
const MaxFrameSize = 16 << 20

// WriteWithLength writes data as one frame: a 4-byte big-endian length
// prefix followed by the body, issued as a single write.
func WriteWithLength(conn net.Conn, data []byte) error {
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadWithLength reads one length-prefixed frame and returns its body.
func ReadWithLength(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", length, MaxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf, nil
}
