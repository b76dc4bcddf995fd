package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/storagebackend/internal/storage"
)

func TestMetricsTracksFetchesAndHits(t *testing.T) {
	var m storage.Metrics

	m.FetchPage()
	m.FetchPage()
	m.PageHitCache()

	assert.Equal(t, uint64(2), m.Fetches())
	assert.Equal(t, uint64(1), m.CacheHits())
}
