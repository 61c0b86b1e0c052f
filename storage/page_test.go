package storage

import "testing"

func TestPageChecksumRoundTrip(t *testing.T) {
	p := NewPage(1, 4096, PageData)
	if err := p.WriteString(PageHeaderSize, "hello"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	p.Finalize()

	if !p.VerifyChecksum() {
		t.Fatal("expected checksum to verify after Finalize")
	}

	// Corrupt a body byte; checksum must now fail.
	p.buf[PageHeaderSize] ^= 0xFF
	if p.VerifyChecksum() {
		t.Fatal("expected checksum to fail after corruption")
	}
}

func TestPageFromBytesRoundTrip(t *testing.T) {
	p := NewPage(7, 4096, PageIndex)
	p.SetFlag(FlagCompressed)
	if err := p.WriteUint64(PageHeaderSize, 0xDEADBEEFCAFE); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	p.Finalize()

	p2 := FromBytes(append([]byte(nil), p.Bytes()...))
	if p2.ID() != p.ID() {
		t.Fatalf("ID mismatch: got %d want %d", p2.ID(), p.ID())
	}
	if p2.Type() != p.Type() {
		t.Fatalf("Type mismatch")
	}
	if !p2.HasFlag(FlagCompressed) {
		t.Fatal("expected Compressed flag to survive round trip")
	}
	v, err := p2.ReadUint64(PageHeaderSize)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if v != 0xDEADBEEFCAFE {
		t.Fatalf("value mismatch: got %#x", v)
	}
	if !p2.VerifyChecksum() {
		t.Fatal("round-tripped page should verify")
	}
}

func TestPageDirtyAndPin(t *testing.T) {
	p := NewPage(1, 4096, PageData)
	p.MarkClean()
	if p.IsDirty() {
		t.Fatal("expected clean after MarkClean")
	}
	_ = p.WriteUint8(PageHeaderSize, 1)
	if !p.IsDirty() {
		t.Fatal("expected dirty after write")
	}

	p.Pin()
	p.Pin()
	if p.PinCount() != 2 {
		t.Fatalf("expected pin count 2, got %d", p.PinCount())
	}
	p.Unpin()
	p.Unpin()
	if p.PinCount() != 0 {
		t.Fatalf("expected pin count 0, got %d", p.PinCount())
	}
}

func TestPageUnpinUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic unpinning a page with zero pin count")
		}
	}()
	p := NewPage(1, 4096, PageData)
	p.Unpin()
}

func TestPageOutOfBoundsOffset(t *testing.T) {
	p := NewPage(1, 4096, PageData)
	if err := p.WriteUint32(4090, 123); err == nil {
		t.Fatal("expected error writing past page end")
	}
}

func TestPageStringRoundTrip(t *testing.T) {
	p := NewPage(1, 4096, PageData)
	next, err := p.WriteString(PageHeaderSize, "entity-123")
	if err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	s, after, err := p.ReadString(PageHeaderSize)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if s != "entity-123" || after != next {
		t.Fatalf("got %q at %d, want entity-123 at %d", s, after, next)
	}
}
