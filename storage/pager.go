package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"emberdb/dberr"
)

const (
	// FileMagic identifies an emberdb data file: "EMDB" in ASCII.
	FileMagic uint32 = 0x454D4442

	// FileFormatVersion is the current on-disk format version.
	FileFormatVersion uint32 = 1

	// FileHeaderSize is the fixed size, in bytes, of the file header that
	// occupies page 0. Per spec.md's design note, page 0 carries the file
	// header ONLY — it is never wrapped in a Page value and never gets a
	// 16-byte page header of its own, resolving the source's offset
	// collision between file-header and page-header layouts.
	FileHeaderSize = 128
)

// File header field offsets (page 0, little-endian).
const (
	fhMagic         = 0x00 // u32
	fhVersion       = 0x04 // u32
	fhPageSize      = 0x08 // u32
	fhPageCount     = 0x0C // u32
	fhFreeListHead  = 0x10 // u32
	fhFreePageCount = 0x14 // u32
	fhSchemaRoot    = 0x18 // u32
	fhFlags         = 0x1C // u32 (bit 0x04 = dirty shutdown)
)

// FlagDirtyShutdown marks the file header dirty on open and clears it only
// on a clean Close; if still set on the next Open, recovery must run.
const FlagDirtyShutdown uint32 = 0x04

// fileHeader is the in-memory mirror of page 0's fixed layout.
type fileHeader struct {
	magic         uint32
	version       uint32
	pageSize      uint32
	pageCount     uint32
	freeListHead  uint32
	freePageCount uint32
	schemaRoot    uint32
	flags         uint32
}

func (h *fileHeader) encode() []byte {
	buf := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(buf[fhMagic:], h.magic)
	binary.LittleEndian.PutUint32(buf[fhVersion:], h.version)
	binary.LittleEndian.PutUint32(buf[fhPageSize:], h.pageSize)
	binary.LittleEndian.PutUint32(buf[fhPageCount:], h.pageCount)
	binary.LittleEndian.PutUint32(buf[fhFreeListHead:], h.freeListHead)
	binary.LittleEndian.PutUint32(buf[fhFreePageCount:], h.freePageCount)
	binary.LittleEndian.PutUint32(buf[fhSchemaRoot:], h.schemaRoot)
	binary.LittleEndian.PutUint32(buf[fhFlags:], h.flags)
	return buf
}

func decodeFileHeader(buf []byte) (*fileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, fmt.Errorf("storage: short file header (%d bytes): %w", len(buf), dberr.ErrInvalidFormat)
	}
	h := &fileHeader{
		magic:         binary.LittleEndian.Uint32(buf[fhMagic:]),
		version:       binary.LittleEndian.Uint32(buf[fhVersion:]),
		pageSize:      binary.LittleEndian.Uint32(buf[fhPageSize:]),
		pageCount:     binary.LittleEndian.Uint32(buf[fhPageCount:]),
		freeListHead:  binary.LittleEndian.Uint32(buf[fhFreeListHead:]),
		freePageCount: binary.LittleEndian.Uint32(buf[fhFreePageCount:]),
		schemaRoot:    binary.LittleEndian.Uint32(buf[fhSchemaRoot:]),
		flags:         binary.LittleEndian.Uint32(buf[fhFlags:]),
	}
	if h.magic != FileMagic {
		return nil, fmt.Errorf("storage: bad magic %#x: %w", h.magic, dberr.ErrInvalidFormat)
	}
	if h.version != FileFormatVersion {
		return nil, fmt.Errorf("storage: unsupported version %d: %w", h.version, dberr.ErrInvalidFormat)
	}
	return h, nil
}

// pagerFile is the storage surface Pager needs: random-access read/write,
// a durability barrier, and a close. *os.File satisfies it directly for
// the paged backend; memFile satisfies it for config.BackendMemory, which
// never touches disk.
type pagerFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Close() error
}

// memFile is a pagerFile backed by a growable in-memory buffer, used for
// config.BackendMemory collections: no file, no fsync, gone on Close.
type memFile struct {
	mu  sync.Mutex
	buf []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:], p)
	return len(p), nil
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }

// Pager owns the database file exclusively: it allocates and frees pages
// against a free list, and is the only component that knows the mapping
// from page-id to file offset.
type Pager struct {
	mu              sync.Mutex
	file            pagerFile
	path            string
	header          *fileHeader
	recovered       bool
	verifyChecksums bool
}

// pageOffset returns the file offset of page id. Page 0 is the file header
// and is addressed directly; page i>=1 begins at
// FileHeaderSize + (i-1)*pageSize, i.e. pages are packed immediately after
// the header with no further gaps.
func (pg *Pager) pageOffset(id uint32) int64 {
	if id == 0 {
		return 0
	}
	return int64(FileHeaderSize) + int64(id-1)*int64(pg.header.pageSize)
}

// Create makes a new database file at path with the given page size,
// writing an initial file header and truncating any existing contents.
func Create(path string, pageSize uint32) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w: %v", path, dberr.ErrIoError, err)
	}
	h := &fileHeader{
		magic:    FileMagic,
		version:  FileFormatVersion,
		pageSize: pageSize,
	}
	if _, err := f.WriteAt(h.encode(), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: write header %s: %w: %v", path, dberr.ErrIoError, err)
	}
	return &Pager{file: f, path: path, header: h, verifyChecksums: true}, nil
}

// CreateMemory makes a new Pager backed entirely by memory: no file is
// created and Close discards its contents. Used for
// config.BackendMemory collections (spec.md's ephemeral storage mode).
func CreateMemory(pageSize uint32) *Pager {
	h := &fileHeader{
		magic:    FileMagic,
		version:  FileFormatVersion,
		pageSize: pageSize,
	}
	f := &memFile{}
	f.WriteAt(h.encode(), 0)
	return &Pager{file: f, path: "", header: h, verifyChecksums: true}
}

// Open opens an existing database file, validating the header. If the
// dirty-shutdown bit is set, RecoveredFromDirtyShutdown reports true so
// the caller can run WAL recovery before trusting the file's contents;
// otherwise the bit is set now and flushed, so a future open without a
// clean Close in between will see it.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w: %v", path, dberr.ErrIoError, err)
	}
	raw := make([]byte, FileHeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: read header %s: %w: %v", path, dberr.ErrIoError, err)
	}
	h, err := decodeFileHeader(raw)
	if err != nil {
		f.Close()
		return nil, err
	}
	pg := &Pager{file: f, path: path, header: h, verifyChecksums: true}
	if h.flags&FlagDirtyShutdown != 0 {
		pg.recovered = true
	} else {
		h.flags |= FlagDirtyShutdown
		if err := pg.flushHeaderLocked(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return pg, nil
}

// RecoveredFromDirtyShutdown reports whether Open found the database in a
// dirty-shutdown state, meaning WAL recovery should run before use.
func (pg *Pager) RecoveredFromDirtyShutdown() bool { return pg.recovered }

// SetVerifyChecksums controls whether ReadPage verifies each page's CRC32
// before returning it. Disabling trades corruption detection for fewer
// CPU cycles per read; defaults to true on both Create and Open.
func (pg *Pager) SetVerifyChecksums(v bool) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.verifyChecksums = v
}

// PageSize returns the fixed page size this file was created with.
func (pg *Pager) PageSize() uint32 {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.header.pageSize
}

// PageCount returns the number of pages ever allocated (including freed
// ones still occupying file space).
func (pg *Pager) PageCount() uint32 {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.header.pageCount
}

// FreePageCount returns the number of pages currently on the free list.
func (pg *Pager) FreePageCount() uint32 {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.header.freePageCount
}

// AllocatePage returns a page of the given type: reused from the free
// list if one is available, otherwise a fresh page appended to the file.
// The free list pop is visible only in memory until the next Flush, per
// spec.md's crash note — a crash before that flush leaks the page rather
// than risking double allocation.
func (pg *Pager) AllocatePage(typ PageType) (*Page, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.header.freeListHead != 0 {
		id := pg.header.freeListHead
		link := make([]byte, 4)
		if _, err := pg.file.ReadAt(link, pg.pageOffset(id)); err != nil {
			return nil, fmt.Errorf("storage: read free page %d: %w: %v", id, dberr.ErrIoError, err)
		}
		pg.header.freeListHead = binary.LittleEndian.Uint32(link)
		pg.header.freePageCount--
		p := NewPage(id, pg.header.pageSize, typ)
		return p, nil
	}

	id := pg.header.pageCount + 1
	pg.header.pageCount++
	p := NewPage(id, pg.header.pageSize, typ)
	if err := pg.writePageLocked(p); err != nil {
		return nil, err
	}
	return p, nil
}

// FreePage threads id onto the head of the free list by writing the
// current head into the page's first 4 bytes, marks it Deleted, and
// durably records the new head and count (the page write itself, not the
// header bump, is what must reach disk before Flush for the crash
// invariant above to hold).
func (pg *Pager) FreePage(id uint32) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	p := NewPage(id, pg.header.pageSize, PageFreeList)
	binary.LittleEndian.PutUint32(p.buf[0:], pg.header.freeListHead)
	p.SetFlag(FlagDeleted)
	p.Finalize()
	// The id field now holds the link, so write at id's offset directly
	// rather than through writePageLocked (which addresses by p.ID()).
	if _, err := pg.file.WriteAt(p.Bytes(), pg.pageOffset(id)); err != nil {
		return fmt.Errorf("storage: write free page %d: %w: %v", id, dberr.ErrIoError, err)
	}
	pg.header.freeListHead = id
	pg.header.freePageCount++
	return nil
}

// ReadPage reads page id from the file. A CRC mismatch surfaces
// ErrCorruptedPage and is never silently tolerated.
func (pg *Pager) ReadPage(id uint32) (*Page, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.readPageLocked(id)
}

func (pg *Pager) readPageLocked(id uint32) (*Page, error) {
	buf := make([]byte, pg.header.pageSize)
	if _, err := pg.file.ReadAt(buf, pg.pageOffset(id)); err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w: %v", id, dberr.ErrIoError, err)
	}
	p := FromBytes(buf)
	if pg.verifyChecksums && !p.VerifyChecksum() {
		return nil, fmt.Errorf("storage: page %d checksum mismatch: %w", id, dberr.ErrCorruptedPage)
	}
	return p, nil
}

// WritePage writes a single page to the file at its id's offset. Callers
// must have called Page.Finalize() beforehand so the checksum is current.
func (pg *Pager) WritePage(p *Page) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.writePageLocked(p)
}

func (pg *Pager) writePageLocked(p *Page) error {
	if _, err := pg.file.WriteAt(p.Bytes(), pg.pageOffset(p.ID())); err != nil {
		return fmt.Errorf("storage: write page %d: %w: %v", p.ID(), dberr.ErrIoError, err)
	}
	p.MarkClean()
	return nil
}

// WritePages writes a batch of pages in id order.
func (pg *Pager) WritePages(pages []*Page) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	for _, p := range pages {
		if err := pg.writePageLocked(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush durably writes the file header (page count, free list state) to
// disk and syncs the file.
func (pg *Pager) Flush() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if err := pg.flushHeaderLocked(); err != nil {
		return err
	}
	return pg.file.Sync()
}

func (pg *Pager) flushHeaderLocked() error {
	if _, err := pg.file.WriteAt(pg.header.encode(), 0); err != nil {
		return fmt.Errorf("storage: write file header: %w: %v", dberr.ErrIoError, err)
	}
	return nil
}

// Close clears the dirty-shutdown bit (marking this a clean close),
// flushes, and releases the file handle.
func (pg *Pager) Close() error {
	pg.mu.Lock()
	pg.header.flags &^= FlagDirtyShutdown
	if err := pg.flushHeaderLocked(); err != nil {
		pg.mu.Unlock()
		return err
	}
	pg.mu.Unlock()
	if err := pg.file.Sync(); err != nil {
		return fmt.Errorf("storage: sync on close: %w: %v", dberr.ErrIoError, err)
	}
	return pg.file.Close()
}
