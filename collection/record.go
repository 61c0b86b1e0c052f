package collection

import (
	"fmt"

	"emberdb/dberr"
	"emberdb/storage"
)

// Entity bodies are stored as CBOR-encoded byte payloads spanning one or
// more Data/Overflow pages, chained by a next-page pointer much as Pager
// threads its free list (which uses a freed page's first 4 bytes); here
// the last 4 bytes of a page's body hold the next page id (0 = none).
// The first page of a chain additionally carries the payload's
// total length in its first 4 body bytes, so readRecord knows how much of
// the final chunk is real payload versus padding.
const (
	lenFieldSize  = 4
	nextFieldSize = 4
)

func bodyCap(pageSize uint32) int {
	return int(pageSize) - storage.PageHeaderSize
}

func firstChunkCap(pageSize uint32) int {
	return bodyCap(pageSize) - lenFieldSize - nextFieldSize
}

func contChunkCap(pageSize uint32) int {
	return bodyCap(pageSize) - nextFieldSize
}

// writeRecord allocates a fresh page chain holding payload and returns the
// id of its first page.
func writeRecord(pool *storage.BufferPool, pageSize uint32, payload []byte) (uint32, error) {
	firstCap := firstChunkCap(pageSize)
	if firstCap <= 0 {
		return 0, fmt.Errorf("collection: page size %d too small to hold any record", pageSize)
	}

	first, err := pool.AllocatePage(storage.PageData)
	if err != nil {
		return 0, err
	}
	firstID := first.ID()
	pinned := []uint32{firstID}
	defer func() {
		for _, id := range pinned {
			pool.UnpinPage(id)
		}
	}()

	if err := first.WriteUint32(storage.PageHeaderSize, uint32(len(payload))); err != nil {
		return 0, err
	}
	chunk := payload
	if len(chunk) > firstCap {
		chunk = payload[:firstCap]
	}
	if err := first.WriteBytes(storage.PageHeaderSize+lenFieldSize, chunk); err != nil {
		return 0, err
	}

	prev := first
	remaining := payload[len(chunk):]
	contCap := contChunkCap(pageSize)
	for len(remaining) > 0 {
		next, err := pool.AllocatePage(storage.PageOverflow)
		if err != nil {
			return 0, err
		}
		pinned = append(pinned, next.ID())
		next.SetFlag(storage.FlagOverflow)
		if err := prev.WriteUint32(int(pageSize)-nextFieldSize, next.ID()); err != nil {
			return 0, err
		}
		prev.MarkDirty()

		part := remaining
		if len(part) > contCap {
			part = remaining[:contCap]
		}
		if err := next.WriteBytes(storage.PageHeaderSize, part); err != nil {
			return 0, err
		}
		remaining = remaining[len(part):]
		prev = next
	}
	if err := prev.WriteUint32(int(pageSize)-nextFieldSize, 0); err != nil {
		return 0, err
	}
	prev.MarkDirty()
	first.MarkDirty()

	return firstID, nil
}

// readRecord follows the chain starting at firstID and returns the
// reassembled payload.
func readRecord(pool *storage.BufferPool, pageSize uint32, firstID uint32) ([]byte, error) {
	first, err := pool.FetchPage(firstID)
	if err != nil {
		return nil, err
	}
	defer pool.UnpinPage(firstID)

	total, err := first.ReadUint32(storage.PageHeaderSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, total)

	chunk, err := first.ReadBytes(storage.PageHeaderSize+lenFieldSize, firstChunkCap(pageSize))
	if err != nil {
		return nil, err
	}
	if uint32(len(chunk)) > total {
		chunk = chunk[:total]
	}
	out = append(out, chunk...)

	next, err := first.ReadUint32(int(pageSize) - nextFieldSize)
	if err != nil {
		return nil, err
	}
	for next != 0 && uint32(len(out)) < total {
		p, err := pool.FetchPage(next)
		if err != nil {
			return nil, err
		}
		part, err := p.ReadBytes(storage.PageHeaderSize, contChunkCap(pageSize))
		if err != nil {
			pool.UnpinPage(next)
			return nil, err
		}
		remaining := total - uint32(len(out))
		if uint32(len(part)) > remaining {
			part = part[:remaining]
		}
		out = append(out, part...)
		nextID, err := p.ReadUint32(int(pageSize) - nextFieldSize)
		pool.UnpinPage(next)
		if err != nil {
			return nil, err
		}
		next = nextID
	}
	if uint32(len(out)) != total {
		return nil, fmt.Errorf("collection: %w: truncated record chain at page %d", dberr.ErrCorruptedPage, firstID)
	}
	return out, nil
}

// freeRecord walks the chain starting at firstID, returning every page to
// the pager's free list.
func freeRecord(pager *storage.Pager, pool *storage.BufferPool, pageSize uint32, firstID uint32) error {
	id := firstID
	for id != 0 {
		p, err := pool.FetchPage(id)
		if err != nil {
			return err
		}
		next, err := p.ReadUint32(int(pageSize) - nextFieldSize)
		pool.UnpinPage(id)
		if err != nil {
			return err
		}
		if err := pool.EvictPage(id); err != nil {
			return err
		}
		if err := pager.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
