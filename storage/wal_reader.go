package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"emberdb/dberr"
)

// Reader sequentially reads framed records from a WAL file, starting just
// past its header, validating each record's CRC and stopping at EndOfLog
// or EOF.
type Reader struct {
	f *os.File
	r *bufio.Reader
}

// NewReader opens path for sequential WAL reading, validating and skipping
// past its header (see WAL.Open) before the first call to Next(). An
// empty file (never written to by WAL.Open) is treated as a header-less,
// record-less log, so "ForEach" over it visits nothing. A path that does
// not exist is an error.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: wal reader open %s: %w: %v", path, dberr.ErrIoError, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: wal reader stat %s: %w: %v", path, dberr.ErrIoError, err)
	}
	if info.Size() > 0 {
		if _, err := readWALHeaderAt(f); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.Seek(WALHeaderSize, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: wal reader seek %s: %w: %v", path, dberr.ErrIoError, err)
		}
	}
	return &Reader{f: f, r: bufio.NewReader(f)}, nil
}

// Close releases the underlying file handle.
func (rd *Reader) Close() error { return rd.f.Close() }

// Next reads and validates the next record. Returns io.EOF when the file
// is exhausted or an EndOfLog record is reached (io.EOF either way, since
// both mean "nothing more to replay").
func (rd *Reader) Next() (Record, error) {
	header := make([]byte, recordFixedSize-4) // up to and including payload length
	n, err := io.ReadFull(rd.r, header)
	if err == io.EOF && n == 0 {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, fmt.Errorf("storage: wal record header truncated: %w", dberr.ErrCorruptedWalRecord)
	}

	typ := RecordType(header[0])
	txn := binary.LittleEndian.Uint64(header[1:9])
	lsn := binary.LittleEndian.Uint64(header[9:17])
	prev := binary.LittleEndian.Uint64(header[17:25])
	payloadLen := binary.LittleEndian.Uint32(header[25:29])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return Record{}, fmt.Errorf("storage: wal payload truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(rd.r, crcBuf[:]); err != nil {
		return Record{}, fmt.Errorf("storage: wal checksum truncated: %w", dberr.ErrCorruptedWalRecord)
	}
	storedCRC := binary.LittleEndian.Uint32(crcBuf[:])

	whole := make([]byte, len(header)+len(payload))
	copy(whole, header)
	copy(whole[len(header):], payload)
	if crc32.ChecksumIEEE(whole) != storedCRC {
		return Record{}, fmt.Errorf("storage: wal record at LSN %d: %w", lsn, dberr.ErrCorruptedWalRecord)
	}

	if typ == RecEndOfLog {
		return Record{}, io.EOF
	}

	return Record{Type: typ, TxnID: txn, LSN: lsn, PrevLSN: prev, Payload: payload}, nil
}

// ReadAll reads every record in the file in order.
func (rd *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ForEach invokes fn for each record in order, stopping early if fn
// returns false.
func (rd *Reader) ForEach(fn func(Record) bool) error {
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
}
