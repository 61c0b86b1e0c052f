package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"emberdb/dberr"
	"emberdb/elog"
)

// RecordType identifies the kind of a WAL record, grounded on
// osakka-entitydb's WALOpType but extended with the transaction framing
// (Begin/Commit/Abort/Checkpoint/EndOfLog) spec.md §3 requires.
type RecordType uint8

const (
	RecBegin      RecordType = 1
	RecCommit     RecordType = 2
	RecAbort      RecordType = 3
	RecInsert     RecordType = 4
	RecUpdate     RecordType = 5
	RecDelete     RecordType = 6
	RecCheckpoint RecordType = 7
	RecEndOfLog   RecordType = 255
)

// NoPrevLSN is the sentinel previous-LSN value for a transaction's first
// record.
const NoPrevLSN = ^uint64(0)

// WALMagic identifies an emberdb WAL file, mirroring Pager's FileMagic
// convention (storage/pager.go) rather than the record framing below.
const WALMagic uint32 = 0x4557414C // "EWAL"

// WALFormatVersion is the current WAL header format version.
const WALFormatVersion uint32 = 1

// WALHeaderSize is the fixed size, in bytes, of the header occupying the
// first WALHeaderSize bytes of every WAL file. Record 0 begins immediately
// after it.
const WALHeaderSize = 16

const (
	whMagic   = 0x00 // u32
	whVersion = 0x04 // u32
	whFlags   = 0x08 // u32
	// 0x0C..0x10 reserved
)

// FlagWALDirty marks a WAL as currently in use by a writer. Open sets it
// and Close/Truncate clear it, so a WAL found with the bit set on Open was
// never cleanly closed and its caller should treat the database as having
// survived a dirty shutdown (mirroring Pager's FlagDirtyShutdown).
const FlagWALDirty uint32 = 0x01

type walHeader struct {
	magic   uint32
	version uint32
	flags   uint32
}

func (h *walHeader) encode() []byte {
	buf := make([]byte, WALHeaderSize)
	binary.LittleEndian.PutUint32(buf[whMagic:], h.magic)
	binary.LittleEndian.PutUint32(buf[whVersion:], h.version)
	binary.LittleEndian.PutUint32(buf[whFlags:], h.flags)
	return buf
}

func decodeWALHeader(buf []byte) (*walHeader, error) {
	if len(buf) < WALHeaderSize {
		return nil, fmt.Errorf("storage: short wal header (%d bytes): %w", len(buf), dberr.ErrInvalidFormat)
	}
	h := &walHeader{
		magic:   binary.LittleEndian.Uint32(buf[whMagic:]),
		version: binary.LittleEndian.Uint32(buf[whVersion:]),
		flags:   binary.LittleEndian.Uint32(buf[whFlags:]),
	}
	if h.magic != WALMagic {
		return nil, fmt.Errorf("storage: bad wal magic %#x: %w", h.magic, dberr.ErrInvalidFormat)
	}
	if h.version != WALFormatVersion {
		return nil, fmt.Errorf("storage: unsupported wal format version %d: %w", h.version, dberr.ErrInvalidFormat)
	}
	return h, nil
}

// readWALHeaderAt reads and validates the WAL header at the start of f.
func readWALHeaderAt(f *os.File) (*walHeader, error) {
	buf := make([]byte, WALHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("storage: read wal header: %w: %v", dberr.ErrInvalidFormat, err)
	}
	return decodeWALHeader(buf)
}

// Record is a single framed WAL entry: type, transaction-id, LSN (the file
// offset the record begins at), the previous LSN written for this
// transaction, and an opaque payload whose shape depends on Type.
type Record struct {
	Type     RecordType
	TxnID    uint64
	LSN      uint64
	PrevLSN  uint64
	Payload  []byte
}

// DataPayload is the decoded shape of an Insert/Update/Delete record's
// Payload: collection name, entity id, and optional before/after images
// (caller-defined encoding, typically CBOR-serialized entity fields).
type DataPayload struct {
	Collection string
	EntityID   string
	Before     []byte // nil if absent
	After      []byte // nil if absent
}

func encodeDataPayload(p DataPayload) []byte {
	var buf bytes.Buffer
	writeLPString(&buf, p.Collection)
	writeLPString(&buf, p.EntityID)
	writeLPBytesOptional(&buf, p.Before)
	writeLPBytesOptional(&buf, p.After)
	return buf.Bytes()
}

func decodeDataPayload(data []byte) (DataPayload, error) {
	r := bytes.NewReader(data)
	var p DataPayload
	var err error
	if p.Collection, err = readLPString(r); err != nil {
		return p, err
	}
	if p.EntityID, err = readLPString(r); err != nil {
		return p, err
	}
	if p.Before, err = readLPBytesOptional(r); err != nil {
		return p, err
	}
	if p.After, err = readLPBytesOptional(r); err != nil {
		return p, err
	}
	return p, nil
}

func writeLPString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readLPString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("storage: wal payload truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("storage: wal payload truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	return string(b), nil
}

// writeLPBytesOptional encodes presence as a single flag byte (1 = present)
// followed by a u32 length and the bytes, so nil and empty-but-present are
// distinguishable.
func writeLPBytesOptional(buf *bytes.Buffer, b []byte) {
	if b == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLPBytesOptional(r *bytes.Reader) ([]byte, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("storage: wal payload truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	if flag == 0 {
		return nil, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("storage: wal payload truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("storage: wal payload truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	return b, nil
}

// encodeRecord frames a record as: type(1) txnID(8) LSN(8) prevLSN(8)
// payloadLen(4) payload CRC32(4), all little-endian, CRC32 computed over
// everything before it.
func encodeRecord(rec Record) []byte {
	buf := make([]byte, 1+8+8+8+4+len(rec.Payload))
	buf[0] = uint8(rec.Type)
	binary.LittleEndian.PutUint64(buf[1:], rec.TxnID)
	binary.LittleEndian.PutUint64(buf[9:], rec.LSN)
	binary.LittleEndian.PutUint64(buf[17:], rec.PrevLSN)
	binary.LittleEndian.PutUint32(buf[25:], uint32(len(rec.Payload)))
	copy(buf[29:], rec.Payload)
	sum := crc32.ChecksumIEEE(buf)
	out := make([]byte, len(buf)+4)
	copy(out, buf)
	binary.LittleEndian.PutUint32(out[len(buf):], sum)
	return out
}

// recordFixedSize is how many bytes encodeRecord produces besides the
// payload itself; the reader uses it to know how much to read before it
// has the length prefix.
const recordFixedSize = 1 + 8 + 8 + 8 + 4 + 4 // everything except payload

// WAL implements the write-ahead log: an append-only file of framed
// records, transaction bookkeeping, and fsync-backed durability on commit.
// Grounded on osakka-entitydb's storage/binary/wal.go (same constructor
// and append-file-handle shape), extended with explicit transaction
// begin/commit/abort framing per spec.md §4.4.
type WAL struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	header    *walHeader
	recovered bool
	offset    int64 // next LSN / append position
	nextTxn   uint64
	prevLSN   map[uint64]uint64 // per-txn chain head
	log       *elog.Logger
}

// Open opens or creates the WAL file "emberdb.wal" inside dir. A fresh file
// gets a new header written at offset 0; an existing file has its header
// validated. Either way the header's dirty bit is set for the duration of
// this Open, and RecoveredDirty reports whether it was already set when
// this call found the file (meaning the previous session never called
// Close, so the caller should treat this as a dirty shutdown).
func Open(dir string, log *elog.Logger) (*WAL, error) {
	if log == nil {
		log = elog.Discard()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: wal mkdir %s: %w: %v", dir, dberr.ErrIoError, err)
	}
	path := filepath.Join(dir, "emberdb.wal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: wal open %s: %w: %v", path, dberr.ErrIoError, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: wal stat %s: %w: %v", path, dberr.ErrIoError, err)
	}

	var header *walHeader
	var recovered bool
	offset := info.Size()
	if info.Size() == 0 {
		header = &walHeader{magic: WALMagic, version: WALFormatVersion, flags: FlagWALDirty}
		if _, err := f.WriteAt(header.encode(), 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: write wal header %s: %w: %v", path, dberr.ErrIoError, err)
		}
		offset = WALHeaderSize
	} else {
		header, err = readWALHeaderAt(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		recovered = header.flags&FlagWALDirty != 0
		header.flags |= FlagWALDirty
		if _, err := f.WriteAt(header.encode(), 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: write wal header %s: %w: %v", path, dberr.ErrIoError, err)
		}
	}

	log.Debug("opened WAL at %s (%d bytes)", path, info.Size())
	return &WAL{
		file:      f,
		path:      path,
		header:    header,
		recovered: recovered,
		offset:    offset,
		prevLSN:   make(map[uint64]uint64),
		log:       log,
	}, nil
}

// Path returns the WAL file's path.
func (w *WAL) Path() string { return w.path }

// RecoveredDirty reports whether Open found this WAL's dirty bit already
// set, meaning the file was never cleanly closed.
func (w *WAL) RecoveredDirty() bool { return w.recovered }

// BeginTransaction allocates a new monotonically increasing transaction id
// and appends a Begin record for it.
func (w *WAL) BeginTransaction() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	txn := atomic.AddUint64(&w.nextTxn, 1)
	w.prevLSN[txn] = NoPrevLSN
	if _, err := w.appendLocked(Record{Type: RecBegin, TxnID: txn}); err != nil {
		return 0, err
	}
	return txn, nil
}

func (w *WAL) logData(typ RecordType, txn uint64, payload DataPayload) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(Record{Type: typ, TxnID: txn, Payload: encodeDataPayload(payload)})
}

// LogInsert appends an Insert record for txn.
func (w *WAL) LogInsert(txn uint64, collection, id string, after []byte) (uint64, error) {
	return w.logData(RecInsert, txn, DataPayload{Collection: collection, EntityID: id, After: after})
}

// LogUpdate appends an Update record for txn, carrying both images so
// recovery (and undo, were it needed) has full context.
func (w *WAL) LogUpdate(txn uint64, collection, id string, before, after []byte) (uint64, error) {
	return w.logData(RecUpdate, txn, DataPayload{Collection: collection, EntityID: id, Before: before, After: after})
}

// LogDelete appends a Delete record for txn.
func (w *WAL) LogDelete(txn uint64, collection, id string, before []byte) (uint64, error) {
	return w.logData(RecDelete, txn, DataPayload{Collection: collection, EntityID: id, Before: before})
}

// CommitTransaction appends a Commit record and fsyncs; only after this
// returns successfully is the transaction's effect durable.
func (w *WAL) CommitTransaction(txn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.appendLocked(Record{Type: RecCommit, TxnID: txn}); err != nil {
		return err
	}
	delete(w.prevLSN, txn)
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("storage: wal fsync on commit: %w: %v", dberr.ErrIoError, err)
	}
	return nil
}

// AbortTransaction appends an Abort record and fsyncs.
func (w *WAL) AbortTransaction(txn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.appendLocked(Record{Type: RecAbort, TxnID: txn}); err != nil {
		return err
	}
	delete(w.prevLSN, txn)
	return w.file.Sync()
}

// Checkpoint records the set of currently-active (begun, not yet
// committed/aborted) transaction ids.
func (w *WAL) Checkpoint(active []uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(active)))
	buf.Write(lenBuf[:])
	for _, t := range active {
		var tb [8]byte
		binary.LittleEndian.PutUint64(tb[:], t)
		buf.Write(tb[:])
	}
	return w.appendLocked(Record{Type: RecCheckpoint, Payload: buf.Bytes()})
}

func (w *WAL) appendLocked(rec Record) (uint64, error) {
	lsn := uint64(w.offset)
	rec.LSN = lsn
	if rec.Type != RecBegin && rec.Type != RecCheckpoint {
		rec.PrevLSN = w.prevLSN[rec.TxnID]
		w.prevLSN[rec.TxnID] = lsn
	} else {
		rec.PrevLSN = NoPrevLSN
	}
	framed := encodeRecord(rec)
	n, err := w.file.WriteAt(framed, w.offset)
	if err != nil {
		return 0, fmt.Errorf("storage: wal append: %w: %v", dberr.ErrIoError, err)
	}
	w.offset += int64(n)
	return lsn, nil
}

// Truncate discards the WAL's record contents, used after a successful
// recovery or checkpoint compaction, but keeps the file's header in place
// (still marked dirty, since the WAL remains open for writing).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(WALHeaderSize); err != nil {
		return fmt.Errorf("storage: wal truncate: %w: %v", dberr.ErrIoError, err)
	}
	w.header.flags |= FlagWALDirty
	if _, err := w.file.WriteAt(w.header.encode(), 0); err != nil {
		return fmt.Errorf("storage: wal rewrite header: %w: %v", dberr.ErrIoError, err)
	}
	w.offset = WALHeaderSize
	w.prevLSN = make(map[uint64]uint64)
	return nil
}

// Remove closes and deletes the WAL file entirely.
func (w *WAL) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("storage: wal close: %w: %v", dberr.ErrIoError, err)
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: wal remove: %w: %v", dberr.ErrIoError, err)
	}
	return nil
}

// Close clears the header's dirty bit (marking this a clean close), syncs,
// and closes the WAL file handle without deleting it.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.header.flags &^= FlagWALDirty
	if _, err := w.file.WriteAt(w.header.encode(), 0); err != nil {
		return fmt.Errorf("storage: wal rewrite header on close: %w: %v", dberr.ErrIoError, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("storage: wal sync on close: %w: %v", dberr.ErrIoError, err)
	}
	return w.file.Close()
}
