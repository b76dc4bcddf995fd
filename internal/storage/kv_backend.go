package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

// PersistentKVBackend is the browser/IndexedDB substrate: pages live
// in an in-process MemoryBackend for the lifetime of the page, and
// every commit's dirty pages are LZ4-compressed into a single frame
// and appended to a host-provided KVStore. Reopening replays every
// frame, in order, back into a fresh MemoryBackend. Grounded on the
// original source's indexeddb_backend.rs and polodb_wasm/src/lib.rs.
type PersistentKVBackend struct {
	memory   *MemoryBackend
	store    KVStore
	pageSize uint32
	logger   *zap.SugaredLogger
}

// OpenPersistentKVBackend builds a PersistentKVBackend over store,
// replaying any frames already present in it. If onLoaded is non-nil
// it fires once, after replay completes successfully, so a host (a
// JS/WASM caller, say) can unblock whatever was waiting on the store
// becoming readable.
func OpenPersistentKVBackend(ctx context.Context, cfg Config, store KVStore, logger *zap.Logger, onLoaded func()) (*PersistentKVBackend, error) {
	memory, err := NewMemoryBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	b := &PersistentKVBackend{
		memory:   memory,
		store:    store,
		pageSize: cfg.PageSize,
		logger:   logger.Sugar(),
	}

	if err := b.replay(ctx); err != nil {
		return nil, err
	}

	if onLoaded != nil {
		onLoaded()
	}

	return b, nil
}

func (b *PersistentKVBackend) replay(ctx context.Context) error {
	frames, err := b.store.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan persistent store: %w", err)
	}

	for i, compressed := range frames {
		raw, err := decompressFrame(compressed)
		if err != nil {
			return fmt.Errorf("decompress frame %d: %w", i, err)
		}
		pages, dbSize, sid, err := decodeKVFrame(raw, b.pageSize)
		if err != nil {
			return fmt.Errorf("decode frame %d: %w", i, err)
		}
		b.logger.Debugw("replaying persisted frame", "frame", i, "sid", sid, "pages", len(pages))

		if err := b.memory.StartTransaction(ctx, Write); err != nil {
			return fmt.Errorf("replay frame %d: %w", i, err)
		}
		for _, page := range pages {
			if err := b.memory.WritePage(ctx, page, nil); err != nil {
				return fmt.Errorf("replay frame %d, page %d: %w", i, page.PageID, err)
			}
		}
		if err := b.memory.SetDBSize(ctx, dbSize); err != nil {
			return fmt.Errorf("replay frame %d db size: %w", i, err)
		}
		if err := b.memory.Commit(ctx); err != nil {
			return fmt.Errorf("replay frame %d commit: %w", i, err)
		}
	}

	return nil
}

func (b *PersistentKVBackend) ReadPage(ctx context.Context, pageID uint32, session *objectid.ID) (*RawPage, error) {
	return b.memory.ReadPage(ctx, pageID, session)
}

func (b *PersistentKVBackend) WritePage(ctx context.Context, page *RawPage, session *objectid.ID) error {
	return b.memory.WritePage(ctx, page, session)
}

func (b *PersistentKVBackend) StartTransaction(ctx context.Context, ty TransactionType) error {
	return b.memory.StartTransaction(ctx, ty)
}

func (b *PersistentKVBackend) UpgradeReadToWrite(ctx context.Context) error {
	return b.memory.UpgradeReadToWrite(ctx)
}

// Commit persists a single compressed frame of this transaction's
// dirty pages, tagged with a freshly generated session id for
// provenance, before folding those same writes into the in-memory
// snapshot, so a failed persist leaves the transaction uncommitted
// and still rollback-able.
func (b *PersistentKVBackend) Commit(ctx context.Context) error {
	dirty, dbSize, err := b.memory.peekDirty()
	if err != nil {
		return err
	}

	if len(dirty) > 0 {
		sid, err := GenerateSessionID()
		if err != nil {
			return fmt.Errorf("generate frame session id: %w", err)
		}
		raw := encodeKVFrame(dirty, dbSize, sid)
		compressed, err := compressFrame(raw)
		if err != nil {
			return fmt.Errorf("compress frame: %w", err)
		}
		if err := b.store.Append(ctx, compressed); err != nil {
			return fmt.Errorf("append frame: %w", err)
		}
	}

	return b.memory.Commit(ctx)
}

func (b *PersistentKVBackend) Rollback(ctx context.Context) error {
	return b.memory.Rollback(ctx)
}

func (b *PersistentKVBackend) DBSize() uint64 {
	return b.memory.DBSize()
}

func (b *PersistentKVBackend) SetDBSize(ctx context.Context, size uint64) error {
	return b.memory.SetDBSize(ctx, size)
}

func (b *PersistentKVBackend) TransactionType() (TransactionType, bool) {
	return b.memory.TransactionType()
}

func (b *PersistentKVBackend) NewSession(ctx context.Context, id objectid.ID) error {
	return b.memory.NewSession(ctx, id)
}

func (b *PersistentKVBackend) RemoveSession(ctx context.Context, id objectid.ID) error {
	return b.memory.RemoveSession(ctx, id)
}

func (b *PersistentKVBackend) Close() error {
	return b.memory.Close()
}

// encodeKVFrame lays out a frame as dbSize(8) + pageCount(4) +
// sidLen(1) + sid bytes + a run of pageID(4)+page-data entries,
// matching spec §6's { pageIds, pages, sid } record shape.
func encodeKVFrame(dirty map[uint32]*RawPage, dbSize uint64, sid string) []byte {
	headerSize := 8 + 4 + 1 + len(sid)
	buf := make([]byte, headerSize)
	marshalUint64(buf, dbSize, 0)
	marshalUint32(buf, uint32(len(dirty)), 8)
	buf[12] = byte(len(sid))
	copy(buf[13:], sid)

	for pageID, page := range dirty {
		entry := make([]byte, 4+len(page.Data))
		marshalUint32(entry, pageID, 0)
		copy(entry[4:], page.Data)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeKVFrame(buf []byte, pageSize uint32) (map[uint32]*RawPage, uint64, string, error) {
	if len(buf) < 13 {
		return nil, 0, "", fmt.Errorf("truncated kv frame header")
	}
	dbSize := unmarshalUint64(buf, 0)
	count := unmarshalUint32(buf, 8)
	sidLen := int(buf[12])

	offset := 13 + sidLen
	if offset > len(buf) {
		return nil, 0, "", fmt.Errorf("truncated kv frame session id")
	}
	sid := string(buf[13:offset])

	entrySize := 4 + int(pageSize)
	pages := make(map[uint32]*RawPage, count)

	for i := uint32(0); i < count; i++ {
		if offset+entrySize > len(buf) {
			return nil, 0, "", fmt.Errorf("truncated kv frame entry %d", i)
		}
		pageID := unmarshalUint32(buf, uint64(offset))
		data := make([]byte, pageSize)
		copy(data, buf[offset+4:offset+entrySize])
		pages[pageID] = &RawPage{PageID: pageID, Data: data}
		offset += entrySize
	}

	return pages, dbSize, sid, nil
}

func compressFrame(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressFrame(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}

const sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSessionID returns a short, URL-safe random identifier in the
// style of polodb_wasm's generate_session_id, for host environments
// (a JS/WASM caller, say) that want a compact handle to hand back to
// their own callers instead of the library's 96-bit objectid.ID.
// PersistentKVBackend.Commit also uses it to tag every persisted
// frame. Backend sessions themselves are always keyed by objectid.ID.
func GenerateSessionID() (string, error) {
	const length = 16
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	out := make([]byte, length)
	for i, b := range raw {
		out[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return string(out), nil
}
