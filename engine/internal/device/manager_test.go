package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/id"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

type fakeConf struct{ hot bool }

func (c fakeConf) IsHot(old endpoint.Conf) bool { return c.hot }

type fakeSourceDriver struct {
	opened bool
	polled chan *message.Batch
}

func (d *fakeSourceDriver) Role() endpoint.Role                      { return endpoint.RoleSource }
func (d *fakeSourceDriver) Open(ctx context.Context, conn any) error { d.opened = true; return nil }
func (d *fakeSourceDriver) Close() error                             { return nil }
func (d *fakeSourceDriver) Poll(ctx context.Context) (*message.Batch, error) {
	select {
	case b := <-d.polled:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestManager(t *testing.T, factory DriverFactory) *Manager {
	t.Helper()
	m, err := New(Options{ID: id.New(), Kind: KindHTTP, DriverFactory: factory})
	require.NoError(t, err)
	return m
}

func TestNewRejectsNilIDOrDriverFactory(t *testing.T) {
	_, err := New(Options{ID: id.Nil, DriverFactory: func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) { return nil, nil }})
	assert.Error(t, err)

	_, err = New(Options{ID: id.New()})
	assert.Error(t, err)
}

func TestCreateChildRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return &fakeSourceDriver{polled: make(chan *message.Batch)}, nil
	})
	childID := id.New()
	_, err := m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	require.NoError(t, err)

	_, err = m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	assert.Error(t, err)
}

func TestManagerStartRunsChildAndTransitionsToRunning(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return &fakeSourceDriver{polled: make(chan *message.Batch)}, nil
	})
	childID := id.New()
	_, err := m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	assert.Equal(t, endpoint.Running, m.State())

	child, err := m.Child(childID)
	require.NoError(t, err)
	assert.Equal(t, endpoint.Running, child.State())
}

func TestManagerStopRefusesWhileChildHasActiveReference(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return &fakeSourceDriver{polled: make(chan *message.Batch)}, nil
	})
	childID := id.New()
	_, err := m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.AddRef(ctx, childID, id.New(), true))

	err = m.Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferr.ErrInUse))
}

func TestManagerStopSucceedsWithoutActiveReferences(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return &fakeSourceDriver{polled: make(chan *message.Batch)}, nil
	})
	childID := id.New()
	_, err := m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.Stop())
	assert.Equal(t, endpoint.Stopped, m.State())
}

func TestDeleteRequiresStoppedAndNoReferences(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return &fakeSourceDriver{polled: make(chan *message.Batch)}, nil
	})
	childID := id.New()
	_, err := m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	require.NoError(t, err)

	require.NoError(t, m.Delete())
	assert.Equal(t, endpoint.Deleted, m.State())
}

func TestDeleteChildFailsWhileReferenced(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return &fakeSourceDriver{polled: make(chan *message.Batch)}, nil
	})
	childID := id.New()
	_, err := m.CreateChild(ChildSpec{ID: childID, Conf: fakeConf{}, Role: endpoint.RoleSource})
	require.NoError(t, err)

	ruleID := id.New()
	require.NoError(t, m.AddRef(context.Background(), childID, ruleID, false))

	err = m.DeleteChild(childID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferr.ErrInUse))

	m.DelRef(childID, ruleID)
	require.NoError(t, m.DeleteChild(childID))
}

func TestChildReturnsNotFoundForUnknownID(t *testing.T) {
	m := newTestManager(t, func(id.ID, endpoint.Role, endpoint.Conf, any) (endpoint.Driver, error) {
		return nil, nil
	})
	_, err := m.Child(id.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferr.ErrNotFound))
}
