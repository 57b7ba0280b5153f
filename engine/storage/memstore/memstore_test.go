package memstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/message"
	"github.com/fieldmesh/core/engine/storage"
)

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("insert_read_update_delete", func(t *testing.T) {
		s, err := Open("", 0)
		require.NoError(t, err)
		defer s.Close()

		devID := id.New()
		rec := storage.Record{ID: devID, Type: storage.ResourceDevice, Name: "pump-1", Conf: message.Object(nil)}
		require.NoError(t, s.Insert(ctx, rec))

		got, err := s.Read(ctx, storage.ResourceDevice, devID)
		require.NoError(t, err)
		assert.Equal(t, "pump-1", got.Name)
		assert.Equal(t, uint64(1), got.Version)

		got.Name = "pump-1-renamed"
		require.NoError(t, s.Update(ctx, got))
		got, err = s.Read(ctx, storage.ResourceDevice, devID)
		require.NoError(t, err)
		assert.Equal(t, "pump-1-renamed", got.Name)
		assert.Equal(t, uint64(2), got.Version)

		require.NoError(t, s.SetStatus(ctx, storage.ResourceDevice, devID, "running"))
		got, err = s.Read(ctx, storage.ResourceDevice, devID)
		require.NoError(t, err)
		assert.Equal(t, "running", got.Status)

		require.NoError(t, s.Delete(ctx, storage.ResourceDevice, devID))
		_, err = s.Read(ctx, storage.ResourceDevice, devID)
		assert.Error(t, err)
	})

	t.Run("insert_rejects_duplicate_id", func(t *testing.T) {
		s, err := Open("", 0)
		require.NoError(t, err)
		defer s.Close()

		rec := storage.Record{ID: id.New(), Type: storage.ResourceApp, Name: "app-1"}
		require.NoError(t, s.Insert(ctx, rec))
		assert.Error(t, s.Insert(ctx, rec))
	})

	t.Run("list_filters_by_resource_type", func(t *testing.T) {
		s, err := Open("", 0)
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Insert(ctx, storage.Record{ID: id.New(), Type: storage.ResourceDevice, Name: "d1"}))
		require.NoError(t, s.Insert(ctx, storage.Record{ID: id.New(), Type: storage.ResourceApp, Name: "a1"}))

		devices, err := s.List(ctx, storage.ResourceDevice)
		require.NoError(t, err)
		assert.Len(t, devices, 1)
		assert.Equal(t, "d1", devices[0].Name)
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	s, err := Open(path, 20*time.Millisecond)
	require.NoError(t, err)

	rec := storage.Record{ID: id.New(), Type: storage.ResourceDevice, Name: "reopen-me"}
	require.NoError(t, s.Insert(context.Background(), rec))
	require.NoError(t, s.Close())

	reopened, err := Open(path, 20*time.Millisecond)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(context.Background(), storage.ResourceDevice, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "reopen-me", got.Name)
}

func TestStoreTemplates(t *testing.T) {
	s, err := Open("", 0)
	require.NoError(t, err)
	defer s.Close()

	tplID := id.New()
	s.PutTemplate(storage.Record{ID: tplID, Type: storage.ResourceDevice, Name: "default-pump"})

	got, err := s.ReadTemplate(context.Background(), storage.ResourceDevice, tplID)
	require.NoError(t, err)
	assert.Equal(t, "default-pump", got.Name)

	_, err = s.ReadTemplate(context.Background(), storage.ResourceDevice, id.New())
	assert.Error(t, err)
}

func TestEventSink(t *testing.T) {
	ctx := context.Background()

	t.Run("buffers_without_a_path", func(t *testing.T) {
		sink, err := OpenEventSink("")
		require.NoError(t, err)
		defer sink.Close()

		require.NoError(t, sink.Append(ctx, storage.Event{Kind: storage.EventCreate}))
		require.NoError(t, sink.Append(ctx, storage.Event{Kind: storage.EventStart}))

		recent := sink.Recent(10)
		require.Len(t, recent, 2)
		assert.Equal(t, storage.EventStart, recent[1].Kind)
	})

	t.Run("recent_caps_at_n", func(t *testing.T) {
		sink, err := OpenEventSink("")
		require.NoError(t, err)
		defer sink.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, sink.Append(ctx, storage.Event{Kind: storage.EventCreate}))
		}
		assert.Len(t, sink.Recent(3), 3)
		assert.Len(t, sink.Recent(0), 5)
	})

	t.Run("appends_to_file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "events.jsonl")
		sink, err := OpenEventSink(path)
		require.NoError(t, err)
		require.NoError(t, sink.Append(ctx, storage.Event{Kind: storage.EventDelete}))
		require.NoError(t, sink.Close())

		reopened, err := OpenEventSink(path)
		require.NoError(t, err)
		defer reopened.Close()
		require.NoError(t, reopened.Append(ctx, storage.Event{Kind: storage.EventStop}))
	})
}
