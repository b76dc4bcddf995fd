package storage

import (
	"fmt"
	"hash/crc32"
	"os"
)

// Journal framing constants, grounded on minisql's journal.go
// (JournalMagic/JournalVersion/CommitMagic/CRC32 header checksum),
// generalized from a single-batch rollback (undo) journal into a
// multi-commit redo journal: frames accumulate across many
// transactions and are only discarded at checkpoint, not at the end
// of each transaction.
const (
	journalMagic        = "sbjrnl01"
	JournalVersion       = uint32(1)
	journalHeaderSize    = 20 // magic(8) + version(4) + page size(4) + reserved(4)
	CommitMagic          = uint32(0xDEADBEEF)
	pageFrameHeaderSize  = 13 // tag(1) + page id(4) + epoch(8)
	pageFrameTrailerSize = 4  // crc32
	commitMarkerSize     = 17 // tag(1) + magic(4) + db size(8) + crc32(4)

	frameTagPage   byte = 'P'
	frameTagCommit byte = 'C'
)

func pageFrameSize(pageSize uint32) int64 {
	return int64(pageFrameHeaderSize) + int64(pageSize) + int64(pageFrameTrailerSize)
}

// TransactionState is the frozen journal view a session is pinned to:
// the offset map and logical database size as they stood at
// new_session time. Reads from the session never observe journal
// entries written after that point, which is what gives sessions
// their isolation from later writers.
type TransactionState struct {
	offsetMap map[uint32]int64
	dbSize    uint64
}

func cloneOffsetMap(m map[uint32]int64) map[uint32]int64 {
	out := make(map[uint32]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JournalManager is an append-only log of page frames and commit
// markers guarding a main data file. It owns the single-writer /
// many-readers state machine described in spec.md's JournalManager
// component: Idle, Read, Write.
type JournalManager struct {
	file     *os.File
	path     string
	pageSize uint32
	length   int64 // current journal file length

	txType           *TransactionType
	writeStartLength int64 // journal length when the active write transaction began, for rollback truncation

	committedDbSize uint64
	currentDbSize   uint64

	offsetMap  map[uint32]int64 // page id -> offset of most recent committed frame
	pendingMap map[uint32]int64 // page id -> offset of frame written by the active writer, not yet committed

	epoch uint64
}

// OpenJournal opens (or creates) the journal file at path. initialDbSize
// is the logical database size to assume if this is a brand new
// journal; an existing journal overrides it with whatever a recovered
// commit marker records.
func OpenJournal(path string, pageSize uint32, initialDbSize uint64) (*JournalManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	jm := &JournalManager{
		file:            file,
		path:            path,
		pageSize:        pageSize,
		committedDbSize: initialDbSize,
		currentDbSize:   initialDbSize,
		offsetMap:       make(map[uint32]int64),
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat journal file: %w", err)
	}

	if stat.Size() == 0 {
		if err := jm.writeHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write journal header: %w", err)
		}
		jm.length = journalHeaderSize
		return jm, nil
	}

	if err := jm.recover(stat.Size()); err != nil {
		file.Close()
		return nil, err
	}

	return jm, nil
}

// Path returns the journal's file path, used by the file backend to
// unlink it after a successful final checkpoint.
func (jm *JournalManager) Path() string {
	return jm.path
}

// Len returns the current journal file length in bytes.
func (jm *JournalManager) Len() int64 {
	return jm.length
}

// Close closes the underlying journal file.
func (jm *JournalManager) Close() error {
	return jm.file.Close()
}

func (jm *JournalManager) writeHeader() error {
	buf := make([]byte, journalHeaderSize)
	copy(buf[0:8], []byte(journalMagic))
	marshalUint32(buf, JournalVersion, 8)
	marshalUint32(buf, jm.pageSize, 12)
	marshalUint32(buf, 0, 16)

	if _, err := jm.file.WriteAt(buf, 0); err != nil {
		return err
	}
	return jm.file.Sync()
}

// recover replays the journal: every frame up to and including the
// last well-formed commit marker is folded into offsetMap; any
// trailing frames without a terminating commit marker (a crash
// mid-batch) are discarded, satisfying spec.md's recovery invariant.
func (jm *JournalManager) recover(fileLen int64) error {
	header := make([]byte, journalHeaderSize)
	if _, err := jm.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read journal header: %w", err)
	}
	if string(header[0:8]) != journalMagic {
		return fmt.Errorf("invalid journal magic")
	}
	filePageSize := unmarshalUint32(header, 12)
	if filePageSize != jm.pageSize {
		return fmt.Errorf("journal page size mismatch: journal=%d, configured=%d", filePageSize, jm.pageSize)
	}

	offset := int64(journalHeaderSize)
	lastGood := offset
	batch := make(map[uint32]int64)

recoveryLoop:
	for offset < fileLen {
		tagBuf := make([]byte, 1)
		if _, err := jm.file.ReadAt(tagBuf, offset); err != nil {
			break
		}

		switch tagBuf[0] {
		case frameTagPage:
			frameSize := pageFrameSize(jm.pageSize)
			if offset+frameSize > fileLen {
				break recoveryLoop
			}
			frame := make([]byte, frameSize)
			if _, err := jm.file.ReadAt(frame, offset); err != nil {
				break recoveryLoop
			}
			crcOffset := uint64(frameSize - pageFrameTrailerSize)
			checksum := unmarshalUint32(frame, crcOffset)
			if checksum != crc32.ChecksumIEEE(frame[:crcOffset]) {
				break recoveryLoop
			}
			pageID := unmarshalUint32(frame, 1)
			batch[pageID] = offset
			offset += frameSize

		case frameTagCommit:
			if offset+commitMarkerSize > fileLen {
				break recoveryLoop
			}
			frame := make([]byte, commitMarkerSize)
			if _, err := jm.file.ReadAt(frame, offset); err != nil {
				break recoveryLoop
			}
			checksum := unmarshalUint32(frame, 13)
			if checksum != crc32.ChecksumIEEE(frame[:13]) {
				break recoveryLoop
			}
			if unmarshalUint32(frame, 1) != CommitMagic {
				break recoveryLoop
			}
			for pageID, frameOffset := range batch {
				jm.offsetMap[pageID] = frameOffset
			}
			batch = make(map[uint32]int64)
			jm.committedDbSize = unmarshalUint64(frame, 5)
			offset += commitMarkerSize
			lastGood = offset

		default:
			break recoveryLoop
		}
	}

	jm.length = lastGood
	jm.currentDbSize = jm.committedDbSize
	return jm.file.Truncate(lastGood)
}

// TransactionType reports the kind of the currently active
// transaction, if any.
func (jm *JournalManager) TransactionType() (TransactionType, bool) {
	if jm.txType == nil {
		return 0, false
	}
	return *jm.txType, true
}

// StartTransaction transitions Idle -> Read or Idle -> Write. Fails
// with ErrBusy if any transaction (read or write) is already active,
// per the Backend contract's general "fails if a transaction is
// already active" rule in spec.md §4.1, which supersedes §4.6's
// narrower "fails if already in Write" phrasing.
func (jm *JournalManager) StartTransaction(ty TransactionType) error {
	if jm.txType != nil {
		return ErrBusy
	}
	t := ty
	jm.txType = &t
	if ty == Write {
		jm.pendingMap = make(map[uint32]int64)
		jm.writeStartLength = jm.length
	}
	return nil
}

// UpgradeReadToWrite lifts an active read transaction to write.
func (jm *JournalManager) UpgradeReadToWrite() error {
	if jm.txType == nil || *jm.txType != Read {
		return fmt.Errorf("upgrade_read_to_write: no active read transaction")
	}
	w := Write
	jm.txType = &w
	jm.pendingMap = make(map[uint32]int64)
	jm.writeStartLength = jm.length
	return nil
}

// AppendRawPage writes a page frame to the journal for the active
// write transaction and records it in the pending map.
func (jm *JournalManager) AppendRawPage(page *RawPage) error {
	if jm.txType == nil || *jm.txType != Write {
		return ErrCannotWriteDbWithoutTransaction
	}

	offset := jm.length
	buf := marshalPageFrame(page, jm.epoch)
	jm.epoch++

	if _, err := jm.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write page frame: %w", err)
	}
	jm.length += int64(len(buf))
	jm.pendingMap[page.PageID] = offset

	expectedSize := (uint64(page.PageID) + 1) * uint64(jm.pageSize)
	if expectedSize > jm.currentDbSize {
		jm.currentDbSize = expectedSize
	}

	return nil
}

// ReadPageMain returns the most recent page image visible without a
// session: the active writer's own pending frame if any, else the
// latest committed frame, else a miss (caller falls through to the
// main file).
func (jm *JournalManager) ReadPageMain(pageID uint32) (*RawPage, bool, error) {
	if offset, ok := jm.pendingMap[pageID]; ok {
		page, err := jm.readFrameAt(pageID, offset)
		return page, true, err
	}
	if offset, ok := jm.offsetMap[pageID]; ok {
		page, err := jm.readFrameAt(pageID, offset)
		return page, true, err
	}
	return nil, false, nil
}

// ReadPage returns the page visible to state (a session's frozen
// view). A miss means the session predates any journal entry for
// this page; the caller falls back to the pre-journal main file
// state.
func (jm *JournalManager) ReadPage(pageID uint32, state *TransactionState) (*RawPage, bool, error) {
	if state == nil {
		return jm.ReadPageMain(pageID)
	}
	offset, ok := state.offsetMap[pageID]
	if !ok {
		return nil, false, nil
	}
	page, err := jm.readFrameAt(pageID, offset)
	return page, true, err
}

func (jm *JournalManager) readFrameAt(pageID uint32, offset int64) (*RawPage, error) {
	payload := make([]byte, jm.pageSize)
	if _, err := jm.file.ReadAt(payload, offset+pageFrameHeaderSize); err != nil {
		return nil, fmt.Errorf("read journal frame for page %d: %w", pageID, err)
	}
	return &RawPage{PageID: pageID, Data: payload}, nil
}

// NewState captures a TransactionState pinned to the journal's
// current committed offset map and database size, for a new read
// session.
func (jm *JournalManager) NewState() *TransactionState {
	return &TransactionState{
		offsetMap: cloneOffsetMap(jm.offsetMap),
		dbSize:    jm.committedDbSize,
	}
}

// RecordDBSize returns the current (possibly mid-write-transaction)
// logical database size.
func (jm *JournalManager) RecordDBSize() uint64 {
	return jm.currentDbSize
}

// ExpandDBSize sets the logical database size within an active write
// transaction.
func (jm *JournalManager) ExpandDBSize(size uint64) error {
	if jm.txType == nil || *jm.txType != Write {
		return ErrCannotWriteDbWithoutTransaction
	}
	if size > jm.currentDbSize {
		jm.currentDbSize = size
	}
	return nil
}

// Commit writes a commit marker (if the writer produced any frames),
// promotes the pending map into the offset map, and transitions back
// to Idle. It returns the set of page ids committed, so the caller
// can decide whether a checkpoint is warranted.
func (jm *JournalManager) Commit() (map[uint32]int64, error) {
	if jm.txType == nil {
		return nil, ErrCannotWriteDbWithoutTransaction
	}

	dirty := jm.pendingMap
	if *jm.txType == Write && len(dirty) > 0 {
		buf := marshalCommitMarker(jm.currentDbSize)
		if _, err := jm.file.WriteAt(buf, jm.length); err != nil {
			return nil, fmt.Errorf("write commit marker: %w", err)
		}
		jm.length += int64(len(buf))
		if err := jm.file.Sync(); err != nil {
			return nil, fmt.Errorf("sync journal: %w", err)
		}

		for pageID, offset := range dirty {
			jm.offsetMap[pageID] = offset
		}
	}

	jm.committedDbSize = jm.currentDbSize
	jm.pendingMap = nil
	jm.txType = nil

	return dirty, nil
}

// Rollback discards the active transaction's pending frames, and
// truncates the journal file back to its length when the transaction
// began so the discarded frames do not linger on disk.
func (jm *JournalManager) Rollback() error {
	if jm.txType == nil {
		return ErrRollbackNotInTransaction
	}

	if *jm.txType == Write {
		if err := jm.file.Truncate(jm.writeStartLength); err != nil {
			return fmt.Errorf("truncate journal on rollback: %w", err)
		}
		jm.length = jm.writeStartLength
	}

	jm.pendingMap = nil
	jm.currentDbSize = jm.committedDbSize
	jm.txType = nil
	return nil
}

// Checkpoint applies every committed frame to mainFile, fsyncs it,
// then truncates the journal back to just its header and clears the
// offset map. Callers must not invoke this while any session is
// alive: a session-pinned frame would be discarded out from under it.
func (jm *JournalManager) Checkpoint(mainFile *os.File) error {
	for pageID, offset := range jm.offsetMap {
		payload := make([]byte, jm.pageSize)
		if _, err := jm.file.ReadAt(payload, offset+pageFrameHeaderSize); err != nil {
			return fmt.Errorf("read frame for checkpoint, page %d: %w", pageID, err)
		}
		writeOffset := int64(pageID) * int64(jm.pageSize)
		if _, err := mainFile.WriteAt(payload, writeOffset); err != nil {
			return fmt.Errorf("checkpoint page %d: %w", pageID, err)
		}
	}

	if err := mainFile.Sync(); err != nil {
		return fmt.Errorf("sync main file after checkpoint: %w", err)
	}

	if err := jm.file.Truncate(journalHeaderSize); err != nil {
		return fmt.Errorf("truncate journal after checkpoint: %w", err)
	}
	jm.length = journalHeaderSize
	jm.offsetMap = make(map[uint32]int64)

	return nil
}

func marshalUint64(buf []byte, v uint64, i uint64) []byte {
	for n := uint64(0); n < 8; n++ {
		buf[i+n] = byte(v >> (8 * n))
	}
	return buf
}

func unmarshalUint64(buf []byte, i uint64) uint64 {
	var v uint64
	for n := uint64(0); n < 8; n++ {
		v |= uint64(buf[i+n]) << (8 * n)
	}
	return v
}

func marshalPageFrame(page *RawPage, epoch uint64) []byte {
	buf := make([]byte, pageFrameHeaderSize+len(page.Data)+pageFrameTrailerSize)
	buf[0] = frameTagPage
	marshalUint32(buf, page.PageID, 1)
	marshalUint64(buf, epoch, 5)
	copy(buf[pageFrameHeaderSize:], page.Data)

	crcEnd := uint64(pageFrameHeaderSize + len(page.Data))
	checksum := crc32.ChecksumIEEE(buf[:crcEnd])
	marshalUint32(buf, checksum, crcEnd)

	return buf
}

func marshalCommitMarker(dbSize uint64) []byte {
	buf := make([]byte, commitMarkerSize)
	buf[0] = frameTagCommit
	marshalUint32(buf, CommitMagic, 1)
	marshalUint64(buf, dbSize, 5)

	checksum := crc32.ChecksumIEEE(buf[:13])
	marshalUint32(buf, checksum, 13)

	return buf
}
