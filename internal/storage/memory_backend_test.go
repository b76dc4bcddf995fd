package storage_test

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardKnop/storagebackend/internal/storage"
	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

func newMemoryBackend(t *testing.T) *storage.MemoryBackend {
	t.Helper()
	cfg := storage.Config{InitBlockCount: 4, JournalFullSize: 4096, CheckDBVersion: true, PageSize: 16}
	b, err := storage.NewMemoryBackend(cfg, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestMemoryBackendWriteRequiresTransaction(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	err := b.WritePage(ctx, storage.NewRawPage(0, 16), nil)
	assert.ErrorIs(t, err, storage.ErrCannotWriteDbWithoutTransaction)
}

func TestMemoryBackendWritesHeaderPageBeforeAnyUserPageIsVisible(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	got, err := b.ReadPage(ctx, 0, nil)
	require.NoError(t, err)
	version, err := storage.ReadVersion(got.Data)
	require.NoError(t, err)
	assert.Equal(t, storage.DatabaseVersion, version)
}

func TestMemoryBackendReadYourWritesWithinTransaction(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	require.NoError(t, b.StartTransaction(ctx, storage.Write))
	page := storage.NewRawPage(1, 16)
	page.Data[0] = 0x7A
	require.NoError(t, b.WritePage(ctx, page, nil))

	got, err := b.ReadPage(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7A), got.Data[0])
}

func TestMemoryBackendRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	require.NoError(t, b.StartTransaction(ctx, storage.Write))
	page := storage.NewRawPage(1, 16)
	page.Data[0] = 0x7A
	require.NoError(t, b.WritePage(ctx, page, nil))
	require.NoError(t, b.Rollback(ctx))

	got, err := b.ReadPage(ctx, 1, nil)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	assert.ErrorIs(t, b.Rollback(ctx), storage.ErrRollbackNotInTransaction)
}

func TestMemoryBackendCommitMakesWritesVisibleOutsideTransaction(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	require.NoError(t, b.StartTransaction(ctx, storage.Write))
	page := storage.NewRawPage(1, 16)
	page.Data[0] = 0x11
	require.NoError(t, b.WritePage(ctx, page, nil))
	require.NoError(t, b.Commit(ctx))

	got, err := b.ReadPage(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), got.Data[0])
}

func TestMemoryBackendSessionIsolationFromLaterWrites(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	sessionID, err := objectid.New()
	require.NoError(t, err)
	require.NoError(t, b.NewSession(ctx, sessionID))

	require.NoError(t, b.StartTransaction(ctx, storage.Write))
	page := storage.NewRawPage(1, 16)
	page.Data[0] = 0x22
	require.NoError(t, b.WritePage(ctx, page, nil))
	require.NoError(t, b.Commit(ctx))

	pinned, err := b.ReadPage(ctx, 1, &sessionID)
	require.NoError(t, err)
	assert.True(t, pinned.IsZero(), "the session predates the commit and must not observe it")

	current, err := b.ReadPage(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x22), current.Data[0])

	require.NoError(t, b.RemoveSession(ctx, sessionID))
	_, err = b.ReadPage(ctx, 1, &sessionID)
	var invalidSession *storage.InvalidSessionError
	assert.ErrorAs(t, err, &invalidSession)
}

func TestMemoryBackendOnlyOneActiveTransaction(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	require.NoError(t, b.StartTransaction(ctx, storage.Read))
	assert.ErrorIs(t, b.StartTransaction(ctx, storage.Write), storage.ErrBusy)
}

func TestMemoryBackendWritePageWithSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	sessionID, err := objectid.New()
	require.NoError(t, err)
	require.NoError(t, b.NewSession(ctx, sessionID))

	err = b.WritePage(ctx, storage.NewRawPage(0, 16), &sessionID)
	assert.ErrorIs(t, err, storage.ErrWriteWithSession)
}

func TestMemoryBackendReadBeyondDBSizeIsOutOfRange(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	_, err := b.ReadPage(ctx, 1000, nil)
	assert.ErrorIs(t, err, storage.ErrPageOutOfRange)
}

func TestMemoryBackendRoundTripsRandomPagePayloads(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	want := make(map[uint32][]byte, 3)
	require.NoError(t, b.StartTransaction(ctx, storage.Write))
	for i := uint32(0); i < 3; i++ {
		payload := []byte(gofakeit.LetterN(16))
		want[i] = payload

		page := storage.NewRawPage(i, 16)
		copy(page.Data, payload)
		require.NoError(t, b.WritePage(ctx, page, nil))
	}
	require.NoError(t, b.Commit(ctx))

	for i, payload := range want {
		got, err := b.ReadPage(ctx, i, nil)
		require.NoError(t, err)
		assert.Equal(t, payload, got.Data)
	}
}

func TestMemoryBackendUpgradeReadToWrite(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend(t)

	require.NoError(t, b.StartTransaction(ctx, storage.Read))
	require.NoError(t, b.UpgradeReadToWrite(ctx))

	ty, active := b.TransactionType()
	assert.True(t, active)
	assert.Equal(t, storage.Write, ty)

	require.NoError(t, b.WritePage(ctx, storage.NewRawPage(0, 16), nil))
	require.NoError(t, b.Commit(ctx))
}
