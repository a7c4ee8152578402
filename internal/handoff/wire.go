// Package handoff implements the cross-process frame hand-off channel:
// a depth-1, credit-gated transport between the producer and consumer
// processes, carried over a websocket connection.
//
// The channel never queues. The producer may hold at most one credit and
// each successful publish consumes it, so at most one frame is in flight;
// on the consumer side a single-slot mailbox keeps only the newest frame.
// Excess frames are dropped and counted, never buffered.
package handoff

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
)

// Wire layout of a frame message (big endian):
//
//	magic       uint32
//	seq         uint64
//	width       uint32
//	height      uint32
//	bytesPerRow uint32
//	captureUs   int64   capture time, unix microseconds
//	pix         [bytesPerRow*height]byte
const (
	frameMagic      = 0x43524C59 // "CRLY"
	frameHeaderSize = 4 + 8 + 4 + 4 + 4 + 8

	// creditGrant is the single-byte control message the consumer sends
	// to reissue the publish credit.
	creditGrant = 0x01
)

// encodeFrame serializes a frame buffer into a wire message.
func encodeFrame(f *frame.Buffer, seq uint64) []byte {
	msg := make([]byte, frameHeaderSize+len(f.Pix))
	binary.BigEndian.PutUint32(msg[0:4], frameMagic)
	binary.BigEndian.PutUint64(msg[4:12], seq)
	binary.BigEndian.PutUint32(msg[12:16], uint32(f.Width))
	binary.BigEndian.PutUint32(msg[16:20], uint32(f.Height))
	binary.BigEndian.PutUint32(msg[20:24], uint32(f.BytesPerRow))
	binary.BigEndian.PutUint64(msg[24:32], uint64(f.CaptureTime.UnixMicro()))
	copy(msg[frameHeaderSize:], f.Pix)
	return msg
}

// decodeFrame parses a wire message back into a frame buffer.
// The pixel block aliases the message payload; the caller must not reuse msg.
func decodeFrame(msg []byte) (*frame.Buffer, error) {
	if len(msg) < frameHeaderSize {
		return nil, fmt.Errorf("frame message too short: %d bytes", len(msg))
	}
	if magic := binary.BigEndian.Uint32(msg[0:4]); magic != frameMagic {
		return nil, fmt.Errorf("bad frame magic 0x%08x", magic)
	}

	seq := binary.BigEndian.Uint64(msg[4:12])
	width := int(binary.BigEndian.Uint32(msg[12:16]))
	height := int(binary.BigEndian.Uint32(msg[16:20]))
	bytesPerRow := int(binary.BigEndian.Uint32(msg[20:24]))
	captureUs := int64(binary.BigEndian.Uint64(msg[24:32]))

	f, err := frame.New(width, height, bytesPerRow, msg[frameHeaderSize:], time.UnixMicro(captureUs))
	if err != nil {
		return nil, fmt.Errorf("invalid frame message: %w", err)
	}
	f.Seq = seq
	return f, nil
}

// isCreditGrant reports whether a binary control message is a credit grant.
func isCreditGrant(msg []byte) bool {
	return len(msg) == 1 && msg[0] == creditGrant
}
