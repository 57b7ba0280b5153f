// Package websocket implements the websocket source/sink north-bound app
// protocol adapter against github.com/gorilla/websocket, named per
// original_source's apps/src/websocket/mod.rs. One shared *websocket.Conn
// per app is owned by the device manager's ParentActor; the source driver
// runs its own read pump forwarding frames into a buffered channel so the
// blocking ReadMessage call can be multiplexed by the endpoint session's
// select loop the same way the protocol adapters under modbus/opcua poll.
package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Conf configures a websocket source or sink endpoint against a shared
// connection to URL.
type Conf struct {
	URL string
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	return o.URL != c.URL
}

// Connector dials the shared websocket connection for one app.
type Connector struct {
	URL string
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial %s: %v", ferr.ErrTransport, c.URL, err)
	}
	return conn, nil
}

func (c Connector) Closed(conn any) bool {
	_, ok := conn.(*websocket.Conn)
	return !ok
}

func (c Connector) Close(conn any) error {
	wc, ok := conn.(*websocket.Conn)
	if !ok {
		return nil
	}
	_ = wc.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return wc.Close()
}

var _ device.Connector = Connector{}

// inboxCapacity sizes the source's read-pump buffer.
const inboxCapacity = 256

// SourceDriver forwards each incoming text/binary frame as a one-message
// batch.
type SourceDriver struct {
	conf   Conf
	conn   *websocket.Conn
	in     chan *message.Batch
	stopCh chan struct{}
}

func NewSource(conf Conf) *SourceDriver {
	return &SourceDriver{conf: conf, in: make(chan *message.Batch, inboxCapacity)}
}

func (d *SourceDriver) Role() endpoint.Role { return endpoint.RoleSource }

func (d *SourceDriver) Open(ctx context.Context, parentConn any) error {
	conn, ok := parentConn.(*websocket.Conn)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "websocket driver requires a *websocket.Conn")
	}
	d.conn = conn
	d.stopCh = make(chan struct{})
	go d.readPump()
	return nil
}

func (d *SourceDriver) readPump() {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		msg := message.NewEmptyMessage()
		msg.Set("payload", message.Bytes(data))
		batch := message.NewBatch("websocket", uint64(time.Now().UnixMilli()))
		batch.Messages = append(batch.Messages, msg)
		select {
		case d.in <- batch:
		case <-d.stopCh:
			return
		default:
		}
	}
}

func (d *SourceDriver) Close() error {
	if d.stopCh != nil {
		close(d.stopCh)
	}
	return nil
}

func (d *SourceDriver) Poll(ctx context.Context) (*message.Batch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-d.in:
		return b, nil
	}
}

var _ endpoint.SourceDriver = (*SourceDriver)(nil)

// SinkDriver writes each message, JSON-encoded, as one text frame.
type SinkDriver struct {
	conf Conf
	conn *websocket.Conn
}

func NewSink(conf Conf) *SinkDriver { return &SinkDriver{conf: conf} }

func (d *SinkDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *SinkDriver) Open(ctx context.Context, parentConn any) error {
	conn, ok := parentConn.(*websocket.Conn)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "websocket driver requires a *websocket.Conn")
	}
	d.conn = conn
	return nil
}

func (d *SinkDriver) Close() error { return nil }

func (d *SinkDriver) Publish(ctx context.Context, batch *message.Batch) error {
	for _, m := range batch.Messages {
		payload, err := m.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: encode websocket payload: %v", ferr.ErrProtocol, err)
		}
		if err := d.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return fmt.Errorf("%w: websocket write: %v", ferr.ErrTransport, err)
		}
	}
	return nil
}

var _ endpoint.SinkDriver = (*SinkDriver)(nil)
