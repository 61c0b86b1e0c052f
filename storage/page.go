// Package storage implements emberdb's paged storage engine: fixed-size
// pages with a CRC32 checksum (Page), a file-backed allocator with a free
// list (Pager), a pinned/dirty LRU cache (BufferPool), and a write-ahead
// log with crash recovery (WAL).
//
// The design follows osakka-entitydb's storage/binary package in shape —
// a fixed binary header, little-endian fields, CRC32 page checksums, an
// append-only WAL with typed records — generalized from that teacher's
// tag-timestamp entity model to spec.md's typed-field entity model.
package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"emberdb/dberr"
)

// PageType identifies what a page's body holds.
type PageType uint8

const (
	PageHeader   PageType = 0
	PageData     PageType = 1
	PageIndex    PageType = 2
	PageOverflow PageType = 3
	PageFreeList PageType = 4
	PageSchema   PageType = 5
	PageWAL      PageType = 6
)

// Flag bits for Page.Flags.
const (
	FlagDirty      uint8 = 0x01
	FlagPinned     uint8 = 0x02
	FlagDeleted    uint8 = 0x04
	FlagOverflow   uint8 = 0x08
	FlagCompressed uint8 = 0x10
	FlagEncrypted  uint8 = 0x20
)

// PageHeaderSize is the size, in bytes, of a page's fixed header.
const PageHeaderSize = 16

// Page header field offsets, within the page's own byte buffer.
const (
	offPageID    = 0  // u32
	offType      = 4  // u8
	offFlags     = 5  // u8
	offFreeSpace = 6  // u16
	offChecksum  = 8  // u32
	// offReserved = 12, 4 bytes
)

// Page is a fixed-size byte block with a 16-byte header followed by a body
// of PageSize-16 bytes. Page 0 is the sole exception: per spec.md's
// resolution of the source's FileHeaderOffsets/PageHeaderOffsets
// collision, page 0 carries only the file header (see Pager) and must
// never be wrapped in a Page value.
type Page struct {
	buf       []byte
	pinCount  int32
	dirty     bool
}

// NewPage allocates a zero-filled page of the given size with its header
// written in place (id, type, checksum all computed over the empty body).
func NewPage(id uint32, size uint32, typ PageType) *Page {
	p := &Page{buf: make([]byte, size)}
	binary.LittleEndian.PutUint32(p.buf[offPageID:], id)
	p.buf[offType] = uint8(typ)
	p.buf[offFlags] = 0
	binary.LittleEndian.PutUint16(p.buf[offFreeSpace:], PageHeaderSize)
	p.computeAndStoreChecksum()
	return p
}

// FromBytes wraps an existing byte slice (e.g. read from disk) as a Page
// without copying. The slice must be exactly the configured page size.
func FromBytes(buf []byte) *Page {
	return &Page{buf: buf}
}

// Bytes returns the page's raw backing buffer.
func (p *Page) Bytes() []byte { return p.buf }

func (p *Page) ID() uint32 { return binary.LittleEndian.Uint32(p.buf[offPageID:]) }

func (p *Page) Type() PageType { return PageType(p.buf[offType]) }

// SetType replaces the page's type byte and marks it dirty.
func (p *Page) SetType(t PageType) {
	p.buf[offType] = uint8(t)
	p.MarkDirty()
}

func (p *Page) FreeSpaceOffset() uint16 {
	return binary.LittleEndian.Uint16(p.buf[offFreeSpace:])
}

func (p *Page) SetFreeSpaceOffset(off uint16) {
	binary.LittleEndian.PutUint16(p.buf[offFreeSpace:], off)
	p.MarkDirty()
}

// --- Flags ---

func (p *Page) SetFlag(bit uint8) {
	p.buf[offFlags] |= bit
	p.MarkDirty()
}

func (p *Page) ClearFlag(bit uint8) {
	p.buf[offFlags] &^= bit
	p.MarkDirty()
}

func (p *Page) HasFlag(bit uint8) bool {
	return p.buf[offFlags]&bit != 0
}

// --- Dirty / pin tracking ---

func (p *Page) IsDirty() bool { return p.dirty }

func (p *Page) MarkDirty() {
	p.dirty = true
	p.buf[offFlags] |= FlagDirty
}

func (p *Page) MarkClean() {
	p.dirty = false
	p.buf[offFlags] &^= FlagDirty
}

func (p *Page) PinCount() int32 { return p.pinCount }

func (p *Page) Pin() { p.pinCount++ }

// Unpin decrements the pin count. Unpinning a page with a zero pin count
// is a programmer error and panics loudly rather than silently
// underflowing, per spec.md §4.1.
func (p *Page) Unpin() {
	if p.pinCount <= 0 {
		panic("storage: unpin called on page with zero pin count")
	}
	p.pinCount--
}

// --- Checksum ---

// checksumZeroed returns a copy of the page buffer with the stored
// checksum field zeroed, suitable for feeding to crc32.
func (p *Page) checksumZeroed() []byte {
	cp := make([]byte, len(p.buf))
	copy(cp, p.buf)
	binary.LittleEndian.PutUint32(cp[offChecksum:], 0)
	return cp
}

// computeChecksum runs CRC32 (polynomial 0xEDB88320, i.e. IEEE) over the
// whole page with the checksum field zeroed.
func (p *Page) computeChecksum() uint32 {
	return crc32.ChecksumIEEE(p.checksumZeroed())
}

func (p *Page) computeAndStoreChecksum() {
	binary.LittleEndian.PutUint32(p.buf[offChecksum:], p.computeChecksum())
}

// Checksum returns the checksum currently stored in the page header.
func (p *Page) Checksum() uint32 {
	return binary.LittleEndian.Uint32(p.buf[offChecksum:])
}

// Finalize recomputes and stores the checksum; callers must call this
// after the last write to a page before it is handed to the Pager for
// writePage.
func (p *Page) Finalize() {
	p.computeAndStoreChecksum()
}

// VerifyChecksum reports whether the stored checksum matches a
// recomputation.
func (p *Page) VerifyChecksum() bool {
	return p.Checksum() == p.computeChecksum()
}

// --- Typed accessors, little-endian, offset-checked ---

func (p *Page) checkBounds(off int, n int) error {
	if off < 0 || n < 0 || off+n > len(p.buf) {
		return fmt.Errorf("storage: page offset %d+%d out of range (size %d): %w", off, n, len(p.buf), dberr.ErrInvalidInput)
	}
	return nil
}

func (p *Page) WriteUint8(off int, v uint8) error {
	if err := p.checkBounds(off, 1); err != nil {
		return err
	}
	p.buf[off] = v
	p.MarkDirty()
	return nil
}

func (p *Page) ReadUint8(off int) (uint8, error) {
	if err := p.checkBounds(off, 1); err != nil {
		return 0, err
	}
	return p.buf[off], nil
}

func (p *Page) WriteInt8(off int, v int8) error { return p.WriteUint8(off, uint8(v)) }
func (p *Page) ReadInt8(off int) (int8, error) {
	v, err := p.ReadUint8(off)
	return int8(v), err
}

func (p *Page) WriteUint16(off int, v uint16) error {
	if err := p.checkBounds(off, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p.buf[off:], v)
	p.MarkDirty()
	return nil
}

func (p *Page) ReadUint16(off int) (uint16, error) {
	if err := p.checkBounds(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p.buf[off:]), nil
}

func (p *Page) WriteInt16(off int, v int16) error { return p.WriteUint16(off, uint16(v)) }
func (p *Page) ReadInt16(off int) (int16, error) {
	v, err := p.ReadUint16(off)
	return int16(v), err
}

func (p *Page) WriteUint32(off int, v uint32) error {
	if err := p.checkBounds(off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p.buf[off:], v)
	p.MarkDirty()
	return nil
}

func (p *Page) ReadUint32(off int) (uint32, error) {
	if err := p.checkBounds(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p.buf[off:]), nil
}

func (p *Page) WriteInt32(off int, v int32) error { return p.WriteUint32(off, uint32(v)) }
func (p *Page) ReadInt32(off int) (int32, error) {
	v, err := p.ReadUint32(off)
	return int32(v), err
}

func (p *Page) WriteUint64(off int, v uint64) error {
	if err := p.checkBounds(off, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p.buf[off:], v)
	p.MarkDirty()
	return nil
}

func (p *Page) ReadUint64(off int) (uint64, error) {
	if err := p.checkBounds(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p.buf[off:]), nil
}

func (p *Page) WriteInt64(off int, v int64) error { return p.WriteUint64(off, uint64(v)) }
func (p *Page) ReadInt64(off int) (int64, error) {
	v, err := p.ReadUint64(off)
	return int64(v), err
}

func (p *Page) WriteFloat32(off int, v float32) error {
	return p.WriteUint32(off, math.Float32bits(v))
}
func (p *Page) ReadFloat32(off int) (float32, error) {
	v, err := p.ReadUint32(off)
	return math.Float32frombits(v), err
}

func (p *Page) WriteFloat64(off int, v float64) error {
	return p.WriteUint64(off, math.Float64bits(v))
}
func (p *Page) ReadFloat64(off int) (float64, error) {
	v, err := p.ReadUint64(off)
	return math.Float64frombits(v), err
}

// WriteBytes writes a raw byte window at off.
func (p *Page) WriteBytes(off int, data []byte) error {
	if err := p.checkBounds(off, len(data)); err != nil {
		return err
	}
	copy(p.buf[off:], data)
	p.MarkDirty()
	return nil
}

// ReadBytes reads n raw bytes at off.
func (p *Page) ReadBytes(off int, n int) ([]byte, error) {
	if err := p.checkBounds(off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.buf[off:off+n])
	return out, nil
}

// WriteString writes a u16-length-prefixed UTF-8 string at off, returning
// the offset immediately after it.
func (p *Page) WriteString(off int, s string) (int, error) {
	if err := p.checkBounds(off, 2+len(s)); err != nil {
		return 0, err
	}
	if len(s) > 0xFFFF {
		return 0, fmt.Errorf("storage: string too long for u16 length prefix (%d bytes): %w", len(s), dberr.ErrInvalidInput)
	}
	if err := p.WriteUint16(off, uint16(len(s))); err != nil {
		return 0, err
	}
	copy(p.buf[off+2:], s)
	p.MarkDirty()
	return off + 2 + len(s), nil
}

// ReadString reads a u16-length-prefixed UTF-8 string at off, returning
// the string and the offset immediately after it.
func (p *Page) ReadString(off int) (string, int, error) {
	n, err := p.ReadUint16(off)
	if err != nil {
		return "", 0, err
	}
	b, err := p.ReadBytes(off+2, int(n))
	if err != nil {
		return "", 0, err
	}
	return string(b), off + 2 + int(n), nil
}

// WriteCString writes a null-terminated string into a fixed-size field of
// width bytes, truncating if necessary.
func (p *Page) WriteCString(off int, s string, width int) error {
	if err := p.checkBounds(off, width); err != nil {
		return err
	}
	if len(s) >= width {
		s = s[:width-1]
	}
	for i := 0; i < width; i++ {
		p.buf[off+i] = 0
	}
	copy(p.buf[off:], s)
	p.MarkDirty()
	return nil
}

// ReadCString reads a null-terminated string from a fixed-size field of
// width bytes, stopping at the first NUL or the field boundary.
func (p *Page) ReadCString(off int, width int) (string, error) {
	b, err := p.ReadBytes(off, width)
	if err != nil {
		return "", err
	}
	if idx := indexZero(b); idx >= 0 {
		b = b[:idx]
	}
	return string(b), nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
