package presence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Opcode is the first header field of a Discord IPC frame.
type Opcode int32

const (
	OpHandshake Opcode = iota
	OpFrame
	OpClose
	OpPing
	OpPong
)

// maxFrame guards against a corrupt length header.
const maxFrame = 1 << 20

func writeFrame(w io.Writer, op Opcode, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return writeRaw(w, op, data)
}

func writeRaw(w io.Writer, op Opcode, data []byte) error {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (Opcode, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	op := Opcode(int32(binary.LittleEndian.Uint32(header[0:4])))
	length := int32(binary.LittleEndian.Uint32(header[4:8]))
	if length < 0 || length > maxFrame {
		return op, nil, fmt.Errorf("invalid frame length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return op, nil, err
	}
	return op, payload, nil
}

type handshake struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

type command struct {
	Cmd   string       `json:"cmd"`
	Args  activityArgs `json:"args"`
	Nonce string       `json:"nonce"`
}

// activityArgs.Activity is serialized as null to clear the presence.
type activityArgs struct {
	PID      int       `json:"pid"`
	Activity *Activity `json:"activity"`
}

type response struct {
	Cmd   string          `json:"cmd"`
	Evt   string          `json:"evt"`
	Data  json.RawMessage `json:"data"`
	Nonce string          `json:"nonce"`
}

// RPCError is an ERROR event from Discord, or the payload of a close frame.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("discord error %d", e.Code)
	}
	return fmt.Sprintf("discord error %d: %s", e.Code, e.Message)
}
