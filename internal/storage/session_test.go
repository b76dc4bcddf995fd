package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

func TestSessionTableSetGetRemove(t *testing.T) {
	table := newSessionTable[int]()
	id, err := objectid.New()
	assert.NoError(t, err)

	_, ok := table.get(id)
	assert.False(t, ok)

	table.set(id, 42)
	v, ok := table.get(id)
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, table.len())

	table.remove(id)
	_, ok = table.get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, table.len())
}

func TestSessionTableClear(t *testing.T) {
	table := newSessionTable[int]()
	id1, _ := objectid.New()
	id2, _ := objectid.New()
	table.set(id1, 1)
	table.set(id2, 2)

	table.clear()

	assert.Equal(t, 0, table.len())
}
