package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/storagebackend/internal/storage"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, storage.DefaultConfig().Validate())
}

func TestConfigValidateRejectsZeroInitBlockCount(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.InitBlockCount = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNonPowerOfTwoPageSize(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PageSize = 100
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsZeroPageSize(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PageSize = 0
	assert.Error(t, cfg.Validate())
}
