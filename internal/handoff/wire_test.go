package handoff

import (
	"bytes"
	"testing"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
)

func testFrame(t *testing.T) *frame.Buffer {
	t.Helper()
	pix := make([]byte, 8*4*6)
	for i := range pix {
		pix[i] = byte(i)
	}
	f, err := frame.New(8, 6, 32, pix, time.UnixMicro(1700000000123456))
	if err != nil {
		t.Fatalf("frame.New failed: %v", err)
	}
	return f
}

func TestFrameCodecRoundTrip(t *testing.T) {
	in := testFrame(t)
	msg := encodeFrame(in, 7)

	out, err := decodeFrame(msg)
	if err != nil {
		t.Fatalf("decodeFrame failed: %v", err)
	}
	if out.Width != in.Width || out.Height != in.Height || out.BytesPerRow != in.BytesPerRow {
		t.Errorf("geometry mismatch: %dx%d stride %d", out.Width, out.Height, out.BytesPerRow)
	}
	if out.Seq != 7 {
		t.Errorf("expected seq 7, got %d", out.Seq)
	}
	if !out.CaptureTime.Equal(in.CaptureTime) {
		t.Errorf("capture time mismatch: %v != %v", out.CaptureTime, in.CaptureTime)
	}
	if !bytes.Equal(out.Pix, in.Pix) {
		t.Error("pixel payload corrupted")
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := decodeFrame([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short message")
	}

	msg := encodeFrame(testFrame(t), 1)
	msg[0] ^= 0xFF
	if _, err := decodeFrame(msg); err == nil {
		t.Error("expected error for bad magic")
	}

	msg = encodeFrame(testFrame(t), 1)
	if _, err := decodeFrame(msg[:len(msg)-1]); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestCreditGrant(t *testing.T) {
	if !isCreditGrant([]byte{creditGrant}) {
		t.Error("credit grant not recognized")
	}
	if isCreditGrant([]byte{0x02}) || isCreditGrant([]byte{creditGrant, 0}) {
		t.Error("non-credit message recognized as credit")
	}
}
