// Package opcua implements the OPC-UA source protocol adapter against
// github.com/gopcua/opcua. Session/read wiring is grounded on
// original_source's devices/src/opcua/group_variable.rs (poll a fixed node
// list on an interval); the subscription/monitored-item path is a
// deliberate stub per SPEC_FULL.md §3 — establishing a session is
// supported, but Subscribe/Unsubscribe return ErrNotImplemented rather than
// guessing gopcua's monitored-item callback shape.
package opcua

import (
	"context"
	"fmt"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Conf is the OPC-UA source endpoint configuration: a fixed set of node ids
// polled once per IntervalMS, per original_source's group_variable model
// (no monitored-item support — see package doc).
type Conf struct {
	EndpointURL string
	NodeIDs     []string // string-encoded node ids, e.g. "ns=2;s=Temperature"
	IntervalMS  int64
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	if o.EndpointURL != c.EndpointURL || o.IntervalMS != c.IntervalMS || len(o.NodeIDs) != len(c.NodeIDs) {
		return true
	}
	for i := range c.NodeIDs {
		if o.NodeIDs[i] != c.NodeIDs[i] {
			return true
		}
	}
	return false
}

// Connector opens one shared OPC-UA session per device, owned by the
// device manager's ParentActor per spec.md §4.2.
type Connector struct {
	EndpointURL string
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	client, err := opcua.NewClient(c.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("opcua client init %s: %w", c.EndpointURL, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect %s: %w", c.EndpointURL, err)
	}
	return client, nil
}

func (c Connector) Closed(conn any) bool {
	client, ok := conn.(*opcua.Client)
	if !ok {
		return true
	}
	return client.State() != opcua.Connected
}

func (c Connector) Close(conn any) error {
	client, ok := conn.(*opcua.Client)
	if !ok {
		return nil
	}
	return client.Close(context.Background())
}

var _ device.Connector = Connector{}

// Driver polls every configured node id once per interval and emits a
// single combined batch, one message field per node id.
type Driver struct {
	conf     Conf
	client   *opcua.Client
	nodeIDs  []*ua.NodeID
	lastTick time.Time
}

func New(conf Conf) *Driver { return &Driver{conf: conf} }

func (d *Driver) Role() endpoint.Role { return endpoint.RoleSource }

func (d *Driver) Open(ctx context.Context, parentConn any) error {
	client, ok := parentConn.(*opcua.Client)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "opcua driver requires a *opcua.Client")
	}
	d.client = client
	d.nodeIDs = make([]*ua.NodeID, 0, len(d.conf.NodeIDs))
	for _, s := range d.conf.NodeIDs {
		nid, err := ua.ParseNodeID(s)
		if err != nil {
			return ferr.NewInvalidConf("node_id", fmt.Sprintf("%q: %v", s, err))
		}
		d.nodeIDs = append(d.nodeIDs, nid)
	}
	return nil
}

func (d *Driver) Close() error { return nil }

func (d *Driver) Poll(ctx context.Context) (*message.Batch, error) {
	interval := time.Duration(d.conf.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	elapsed := time.Since(d.lastTick)
	if elapsed < interval {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval - elapsed):
		}
	}
	d.lastTick = time.Now()

	toRead := make([]*ua.ReadValueID, len(d.nodeIDs))
	for i, nid := range d.nodeIDs {
		toRead[i] = &ua.ReadValueID{NodeID: nid}
	}
	req := &ua.ReadRequest{
		MaxAge:             2000,
		NodesToRead:        toRead,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}
	resp, err := d.client.Read(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: opcua read: %v", ferr.ErrTransport, err)
	}

	msg := message.NewEmptyMessage()
	for i, dv := range resp.Results {
		name := d.conf.NodeIDs[i]
		if dv.Status != ua.StatusOK {
			msg.Set(name, message.Null())
			continue
		}
		msg.Set(name, decodeVariant(dv.Value))
	}
	batch := message.NewBatch("opcua", uint64(time.Now().UnixMilli()))
	batch.Messages = append(batch.Messages, msg)
	return batch, nil
}

func decodeVariant(v *ua.Variant) message.Value {
	if v == nil {
		return message.Null()
	}
	switch val := v.Value().(type) {
	case bool:
		return message.Bool(val)
	case int64:
		return message.Int64(val)
	case int32:
		return message.Int64(int64(val))
	case uint32:
		return message.Int64(int64(val))
	case float32:
		return message.Float64(float64(val))
	case float64:
		return message.Float64(val)
	case string:
		return message.String(val)
	default:
		return message.String(fmt.Sprintf("%v", val))
	}
}

var _ endpoint.SourceDriver = (*Driver)(nil)

// Subscribe would establish a monitored item against nodeID; deliberately
// unimplemented per SPEC_FULL.md §3 — gopcua's subscription callback shape
// is not guessed at here.
func (d *Driver) Subscribe(ctx context.Context, nodeID string) error {
	return ferr.ErrNotImplemented
}

// Unsubscribe mirrors Subscribe's stub status.
func (d *Driver) Unsubscribe(ctx context.Context, nodeID string) error {
	return ferr.ErrNotImplemented
}
