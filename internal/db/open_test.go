package db

import (
	"context"
	"testing"

	"github.com/abkawan/banka-ledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	store, closeStore, err := Open(context.Background(), &config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)
	defer closeStore()

	_, ok := store.(*Memory)
	assert.True(t, ok)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), &config.Config{StoreBackend: "cassandra"})
	assert.Error(t, err)
}
