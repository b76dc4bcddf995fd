package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/storagebackend/internal/storage"
)

func TestTransactionTypeString(t *testing.T) {
	assert.Equal(t, "read", storage.Read.String())
	assert.Equal(t, "write", storage.Write.String())
	assert.Equal(t, "unknown", storage.TransactionType(0).String())
}

func TestNewTransactionOpensDraftOverSnapshot(t *testing.T) {
	snap := storage.NewSnapshot(16, 160)
	txn := storage.NewTransaction(storage.Write, snap)

	assert.Equal(t, storage.Write, txn.Type)
	assert.NotNil(t, txn.Draft)
	assert.Nil(t, txn.DirtyPages)
}
