package workerclassifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageSize bounds a single framed message
const MaxMessageSize = 16 << 20

// errMalformed marks a complete frame whose body could not be decoded, the
// stream itself is still in sync
var errMalformed = errors.New("malformed message")

// Request asks the worker to classify one window
type Request struct {
	ID uint64 `msgpack:"id"`
	// Seq is the window snapshot sequence number
	Seq uint64 `msgpack:"seq"`
	// Shape is [frames, channels, joints]
	Shape  [3]int    `msgpack:"shape"`
	Tensor []float32 `msgpack:"tensor"`
}

// Response is the worker's answer to the Request with the same ID
type Response struct {
	ID            uint64             `msgpack:"id"`
	Probabilities map[string]float64 `msgpack:"probabilities"`
	Error         string             `msgpack:"error,omitempty"`
}

// writeMessage writes v as a 4 byte big endian length followed by its
// msgpack encoding
func writeMessage(w io.Writer, v interface{}) error {

	data, err := msgpack.Marshal(v)

	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// readMessage reads one framed message into v
func readMessage(r io.Reader, v interface{}) error {

	var lengthBuf [4]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])

	if n > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	data := make([]byte, n)

	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	return nil
}
