package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) (*JournalManager, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "db.journal")
	jm, err := OpenJournal(path, 16, 160)
	require.NoError(t, err)
	t.Cleanup(func() { jm.Close() })
	return jm, path
}

func TestJournalStartTransactionRejectsSecondActive(t *testing.T) {
	jm, _ := newTestJournal(t)

	require.NoError(t, jm.StartTransaction(Write))
	assert.ErrorIs(t, jm.StartTransaction(Write), ErrBusy)
	assert.ErrorIs(t, jm.StartTransaction(Read), ErrBusy)
}

func TestJournalReadYourOwnWritesBeforeCommit(t *testing.T) {
	jm, _ := newTestJournal(t)

	require.NoError(t, jm.StartTransaction(Write))
	page := NewRawPage(1, 16)
	page.Data[0] = 0x42
	require.NoError(t, jm.AppendRawPage(page))

	got, hit, err := jm.ReadPageMain(1)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, byte(0x42), got.Data[0])
}

func TestJournalCommitPromotesPendingToOffsetMap(t *testing.T) {
	jm, _ := newTestJournal(t)

	require.NoError(t, jm.StartTransaction(Write))
	page := NewRawPage(1, 16)
	page.Data[0] = 0x42
	require.NoError(t, jm.AppendRawPage(page))

	dirty, err := jm.Commit()
	require.NoError(t, err)
	assert.Len(t, dirty, 1)

	ty, active := jm.TransactionType()
	assert.False(t, active)
	assert.Equal(t, TransactionType(0), ty)

	got, hit, err := jm.ReadPageMain(1)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, byte(0x42), got.Data[0])
}

func TestJournalRollbackDiscardsPending(t *testing.T) {
	jm, _ := newTestJournal(t)

	require.NoError(t, jm.StartTransaction(Write))
	page := NewRawPage(1, 16)
	page.Data[0] = 0x42
	require.NoError(t, jm.AppendRawPage(page))

	require.NoError(t, jm.Rollback())

	_, hit, err := jm.ReadPageMain(1)
	require.NoError(t, err)
	assert.False(t, hit)

	assert.ErrorIs(t, jm.Rollback(), ErrRollbackNotInTransaction)
}

func TestJournalSessionPinnedToOffsetMapAtBegin(t *testing.T) {
	jm, _ := newTestJournal(t)

	require.NoError(t, jm.StartTransaction(Write))
	page1 := NewRawPage(1, 16)
	page1.Data[0] = 0x01
	require.NoError(t, jm.AppendRawPage(page1))
	_, err := jm.Commit()
	require.NoError(t, err)

	state := jm.NewState()

	require.NoError(t, jm.StartTransaction(Write))
	page1Updated := NewRawPage(1, 16)
	page1Updated.Data[0] = 0x02
	require.NoError(t, jm.AppendRawPage(page1Updated))
	_, err = jm.Commit()
	require.NoError(t, err)

	pinned, hit, err := jm.ReadPage(1, state)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, byte(0x01), pinned.Data[0], "a session must not observe commits made after it was created")

	current, hit, err := jm.ReadPageMain(1)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, byte(0x02), current.Data[0])
}

func TestJournalCheckpointAppliesOffsetMapAndClearsIt(t *testing.T) {
	jm, _ := newTestJournal(t)
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.db")
	mainFile, err := os.OpenFile(mainPath, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	defer mainFile.Close()
	require.NoError(t, mainFile.Truncate(160))

	require.NoError(t, jm.StartTransaction(Write))
	page := NewRawPage(2, 16)
	page.Data[0] = 0x99
	require.NoError(t, jm.AppendRawPage(page))
	_, err = jm.Commit()
	require.NoError(t, err)

	require.NoError(t, jm.Checkpoint(mainFile))

	buf := make([]byte, 16)
	_, err = mainFile.ReadAt(buf, 2*16)
	require.NoError(t, err)
	assert.Equal(t, byte(0x99), buf[0])

	_, hit, err := jm.ReadPageMain(2)
	require.NoError(t, err)
	assert.False(t, hit, "offset map entries are cleared once checkpointed into the main file")
}

func TestJournalRecoversDiscardingUncommittedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.journal")

	jm, err := OpenJournal(path, 16, 160)
	require.NoError(t, err)

	require.NoError(t, jm.StartTransaction(Write))
	committedPage := NewRawPage(1, 16)
	committedPage.Data[0] = 0x01
	require.NoError(t, jm.AppendRawPage(committedPage))
	_, err = jm.Commit()
	require.NoError(t, err)

	require.NoError(t, jm.StartTransaction(Write))
	uncommittedPage := NewRawPage(2, 16)
	uncommittedPage.Data[0] = 0x02
	require.NoError(t, jm.AppendRawPage(uncommittedPage))
	// Simulate a crash: no Commit call, so no commit marker is ever
	// written for this second transaction.
	require.NoError(t, jm.Close())

	reopened, err := OpenJournal(path, 16, 160)
	require.NoError(t, err)
	defer reopened.Close()

	got, hit, err := reopened.ReadPageMain(1)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, byte(0x01), got.Data[0])

	_, hit, err = reopened.ReadPageMain(2)
	require.NoError(t, err)
	assert.False(t, hit, "frames after the last commit marker must not survive recovery")
}
