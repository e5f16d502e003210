package postgres

import (
	"testing"

	"github.com/multidriver/relay/internal/config"
	"github.com/multidriver/relay/internal/storage"
	gormstorage "github.com/multidriver/relay/internal/storage/gorm"
	"github.com/multidriver/relay/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestInit_Unreachable(t *testing.T) {
	b := New(config.DBConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "postgres",
		Password: "postgres",
		Database: "mdv_relay",
	}, nil, zerolog.Nop())

	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.Nil(t, b.DB())

	// Close without a running writer is a no-op
	assert.NoError(t, b.Close())
}

func TestQueuesBeforeInit(t *testing.T) {
	b := New(config.DBConfig{}, nil, zerolog.Nop())

	require.NoError(t, b.AddEntity(&core.Entity{RelayID: "mdv_1"}))
	require.NoError(t, b.RemoveEntity(&core.EntityRemoval{RelayID: "mdv_1"}))

	lengths := b.QueueLengths()
	assert.Equal(t, 1, lengths["entities"])
	assert.Equal(t, 1, lengths["removals"])

	assert.ErrorIs(t, b.StartSession(&core.Session{Name: "x"}), gormstorage.ErrNoDatabase)
}
