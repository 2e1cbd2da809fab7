// Package replay implements the replay digest and wire format (spec.md
// §4.10): a length-prefixed frame codec and the async writer that drains
// frames to an io.Writer without blocking the tick that produced them.
package replay

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/tachyon-beep/murk-sub003/internal/ingress"
)

// ProtocolVersion is bumped whenever ReplayFrame's wire shape changes.
const ProtocolVersion uint16 = 1

const (
	frameTypeTick byte = 0x01
)

// MaxFrameSize bounds a single encoded frame, the same defensive ceiling
// ipc/protocol.go applies to its messages.
const MaxFrameSize = 8 * 1024 * 1024

// ReplayFrame is one tick's worth of replay-relevant state: the commands
// applied and the resulting snapshot hash (spec.md §4.10). It does not
// carry full field contents - replaying a run means re-executing the
// command stream against the same schema/propagator set and checking the
// hash chain matches, not storing a copy of every field every tick.
type ReplayFrame struct {
	TickID       uint64
	Generation   uint64
	Commands     []ingress.Command
	SnapshotHash uint64
}

// header is the fixed-size frame prefix, the same {version, type, length}
// shape as ipc/protocol.go's Header, generalized from a one-byte message
// type enum (snapshot/ping/pong/config) to a single frame type since
// replay has exactly one frame kind.
type header struct {
	Version uint16
	Type    byte
	_       byte // reserved, matches protocol.go's padding byte
	Length  uint32
}

const headerSize = 8

// EncodeFrame gob-encodes f's payload and writes a framed message to w:
// an 8-byte header ({version, type, reserved, length}) followed by the
// gob body, mirroring ipc/protocol.go's WriteMessage.
func EncodeFrame(w io.Writer, f ReplayFrame) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(f); err != nil {
		return fmt.Errorf("replay: gob encode frame: %w", err)
	}
	if body.Len() > MaxFrameSize {
		return fmt.Errorf("replay: frame too large: %d > %d", body.Len(), MaxFrameSize)
	}

	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(hdr[0:2], ProtocolVersion)
	hdr[2] = frameTypeTick
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(body.Len()))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("replay: write header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("replay: write body: %w", err)
	}
	return nil
}

// DecodeFrame reads exactly one framed message from r and decodes it.
func DecodeFrame(r io.Reader) (ReplayFrame, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return ReplayFrame{}, fmt.Errorf("replay: read header: %w", err)
	}
	version := binary.LittleEndian.Uint16(hdr[0:2])
	length := binary.LittleEndian.Uint32(hdr[4:8])

	if version != ProtocolVersion {
		return ReplayFrame{}, fmt.Errorf("replay: version mismatch: got %d, want %d", version, ProtocolVersion)
	}
	if length > MaxFrameSize {
		return ReplayFrame{}, fmt.Errorf("replay: frame too large: %d > %d", length, MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return ReplayFrame{}, fmt.Errorf("replay: read body: %w", err)
	}

	var f ReplayFrame
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&f); err != nil {
		return ReplayFrame{}, fmt.Errorf("replay: gob decode frame: %w", err)
	}
	return f, nil
}
