// Package memstore is a reference storage.Store/storage.EventSink backend:
// an in-memory table periodically flushed to a JSON file, in the teacher's
// checkpointLoop idiom (engine/internal/resources.Manager.checkpointLoop —
// buffer writes, flush on a ticker or buffer-full, never block the caller on
// disk I/O). It exists only so cmd/fieldmeshd has something to boot against
// out of the box; a real deployment is expected to supply its own
// Postgres/SQLite-backed storage.Store, per SPEC_FULL.md §2's Postgres/SQLite
// facade row — this package is not that facade.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/storage"
)

type resourceKey struct {
	Type storage.ResourceType
	ID   id.ID
}

// Store is a mutex-guarded map of storage.Record, periodically snapshotted
// to a JSON file at Path so a restart can Bootstrap from the last flush.
type Store struct {
	path string

	mu        sync.Mutex
	records   map[resourceKey]storage.Record
	templates map[resourceKey]storage.Record

	dirty     chan struct{}
	flushDone chan struct{}
}

type diskImage struct {
	Records   []storage.Record `json:"records"`
	Templates []storage.Record `json:"templates"`
}

// Open loads path if it exists (a missing file starts empty, matching
// engine.LoadConfig's convention) and starts a background flush loop that
// persists on every mutation, debounced to one flush per flushInterval.
func Open(path string, flushInterval time.Duration) (*Store, error) {
	s := &Store{
		path:      path,
		records:   make(map[resourceKey]storage.Record),
		templates: make(map[resourceKey]storage.Record),
		dirty:     make(chan struct{}, 1),
		flushDone: make(chan struct{}),
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
		if flushInterval <= 0 {
			flushInterval = time.Second
		}
		go s.flushLoop(flushInterval)
	} else {
		close(s.flushDone)
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read memstore file %s: %w", s.path, err)
	}
	var img diskImage
	if err := json.Unmarshal(data, &img); err != nil {
		return fmt.Errorf("decode memstore file %s: %w", s.path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range img.Records {
		s.records[resourceKey{Type: rec.Type, ID: rec.ID}] = rec
	}
	for _, rec := range img.Templates {
		s.templates[resourceKey{Type: rec.Type, ID: rec.ID}] = rec
	}
	return nil
}

func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) flushLoop(interval time.Duration) {
	defer close(s.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pending := false
	for {
		select {
		case _, ok := <-s.dirty:
			if !ok {
				s.flush()
				return
			}
			pending = true
		case <-ticker.C:
			if pending {
				s.flush()
				pending = false
			}
		}
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	img := diskImage{Records: make([]storage.Record, 0, len(s.records)), Templates: make([]storage.Record, 0, len(s.templates))}
	for _, rec := range s.records {
		img.Records = append(img.Records, rec)
	}
	for _, rec := range s.templates {
		img.Templates = append(img.Templates, rec)
	}
	s.mu.Unlock()
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return
	}
	if dir := filepath.Dir(s.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	_ = os.WriteFile(s.path, data, 0o644)
}

// Close flushes one final time and stops the background loop.
func (s *Store) Close() error {
	if s.path == "" {
		return nil
	}
	close(s.dirty)
	<-s.flushDone
	return nil
}

func (s *Store) Insert(ctx context.Context, rec storage.Record) error {
	key := resourceKey{Type: rec.Type, ID: rec.ID}
	s.mu.Lock()
	if _, exists := s.records[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("memstore: record %s/%s already exists", rec.Type, rec.ID)
	}
	rec.Version = 1
	s.records[key] = rec
	s.mu.Unlock()
	s.markDirty()
	return nil
}

func (s *Store) Read(ctx context.Context, resourceType storage.ResourceType, resourceID id.ID) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[resourceKey{Type: resourceType, ID: resourceID}]
	if !ok {
		return storage.Record{}, fmt.Errorf("memstore: record %s/%s not found", resourceType, resourceID)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, rec storage.Record) error {
	key := resourceKey{Type: rec.Type, ID: rec.ID}
	s.mu.Lock()
	existing, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: record %s/%s not found", rec.Type, rec.ID)
	}
	rec.Version = existing.Version + 1
	s.records[key] = rec
	s.mu.Unlock()
	s.markDirty()
	return nil
}

func (s *Store) Delete(ctx context.Context, resourceType storage.ResourceType, resourceID id.ID) error {
	key := resourceKey{Type: resourceType, ID: resourceID}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	s.markDirty()
	return nil
}

func (s *Store) List(ctx context.Context, resourceType storage.ResourceType) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Record, 0, len(s.records))
	for key, rec := range s.records {
		if key.Type == resourceType {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) SetStatus(ctx context.Context, resourceType storage.ResourceType, resourceID id.ID, status string) error {
	key := resourceKey{Type: resourceType, ID: resourceID}
	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: record %s/%s not found", resourceType, resourceID)
	}
	rec.Status = status
	rec.Version++
	s.records[key] = rec
	s.mu.Unlock()
	s.markDirty()
	return nil
}

func (s *Store) ReadTemplate(ctx context.Context, resourceType storage.ResourceType, templateID id.ID) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.templates[resourceKey{Type: resourceType, ID: templateID}]
	if !ok {
		return storage.Record{}, fmt.Errorf("memstore: template %s/%s not found", resourceType, templateID)
	}
	return rec, nil
}

// PutTemplate seeds a baseline configuration usable by
// engine.Engine.CreateResourceFromTemplate. Not part of storage.Store —
// templates are operator-provisioned out of band, not created through the
// lifecycle API.
func (s *Store) PutTemplate(rec storage.Record) {
	s.mu.Lock()
	s.templates[resourceKey{Type: rec.Type, ID: rec.ID}] = rec
	s.mu.Unlock()
	s.markDirty()
}

var _ storage.Store = (*Store)(nil)

// EventSink appends audit events to an in-memory ring capped at the latest
// 4096 events and, when opened with a path, writes each event to that
// JSON-lines file synchronously inside Append.
type EventSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	events []storage.Event
}

// OpenEventSink opens path for append, creating it if necessary. An empty
// path returns a sink that only buffers in memory (used by unit tests).
func OpenEventSink(path string) (*EventSink, error) {
	s := &EventSink{path: path}
	if path == "" {
		return s, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	s.file = f
	return s, nil
}

func (s *EventSink) Append(ctx context.Context, ev storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > 4096 {
		s.events = s.events[len(s.events)-4096:]
	}
	if s.file == nil {
		return nil
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.file.Write(line)
	return err
}

// Recent returns up to n of the most recently appended events, for the
// admin surface's /events resource.
func (s *EventSink) Recent(n int) []storage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]storage.Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

func (s *EventSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

var _ storage.EventSink = (*EventSink)(nil)
