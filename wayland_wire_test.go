package main

import (
	"encoding/binary"
	"testing"
)

// TestWlEncoderStringPadding verifies string encoding includes the
// null terminator and pads to 4-byte alignment.
func TestWlEncoderStringPadding(t *testing.T) {
	var e wlEncoder
	e.string("als") // length 3 + null = 4, already aligned
	b := e.buf.Bytes()
	if len(b) != 4+4 {
		t.Fatalf("encoded length %d, want 8 (4-byte length prefix + 4-byte payload)", len(b))
	}
	length := binary.LittleEndian.Uint32(b[0:4])
	if length != 4 {
		t.Fatalf("length prefix = %d, want 4", length)
	}
	if b[7] != 0 {
		t.Fatal("payload should end with a null terminator")
	}
}

// TestWlEncoderStringPaddingUnaligned verifies a string whose
// null-terminated length isn't a multiple of 4 is padded out.
func TestWlEncoderStringPaddingUnaligned(t *testing.T) {
	var e wlEncoder
	e.string("wl_output") // length 9 + null = 10, pads to 12
	b := e.buf.Bytes()
	if len(b) != 4+12 {
		t.Fatalf("encoded length %d, want 16", len(b))
	}
}

// TestArgReaderRoundTripsEncoderOutput verifies argReader decodes
// exactly what wlEncoder wrote, for both uint32 and string fields.
func TestArgReaderRoundTripsEncoderOutput(t *testing.T) {
	var e wlEncoder
	e.uint32(42)
	e.string("zwlr_export_dmabuf_manager_v1")
	e.uint32(3)

	a := newArgReader(e.buf.Bytes())
	if got := a.uint32(); got != 42 {
		t.Fatalf("first uint32 = %d, want 42", got)
	}
	if got := a.string(); got != "zwlr_export_dmabuf_manager_v1" {
		t.Fatalf("string = %q, want interface name", got)
	}
	if got := a.uint32(); got != 3 {
		t.Fatalf("trailing uint32 = %d, want 3", got)
	}
}
