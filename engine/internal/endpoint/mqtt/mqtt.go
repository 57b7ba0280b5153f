// Package mqtt implements the MQTT source/sink north-bound app protocol
// adapter against github.com/eclipse/paho.mqtt.golang. There is no in-pack
// MQTT example repo; this is the ecosystem-standard Go client named in
// SPEC_FULL.md §2. One shared *mqtt.Client per device/app is owned by the
// device manager's ParentActor; paho's own internal reconnect loop is left
// disabled (AutoReconnect=false) so the ParentActor's Connect/Closed/Close
// contract stays the single source of truth for connection state, per
// spec.md §4.2.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Conf is shared by MQTT source and sink endpoints.
type Conf struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Topic    string
	QoS      byte
	Retained bool
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	return o.Broker != c.Broker || o.ClientID != c.ClientID
}

// Connector owns the shared paho client for one device/app.
type Connector struct {
	Broker       string
	ClientID     string
	ConnTimeout  time.Duration
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	opts := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(connTimeoutOr(c.ConnTimeout))
	cl := paho.NewClient(opts)
	token := cl.Connect()
	if !token.WaitTimeout(connTimeoutOr(c.ConnTimeout)) {
		return nil, fmt.Errorf("%w: mqtt connect %s timed out", ferr.ErrTransport, c.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: mqtt connect %s: %v", ferr.ErrTransport, c.Broker, err)
	}
	return cl, nil
}

func connTimeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c Connector) Closed(conn any) bool {
	cl, ok := conn.(paho.Client)
	if !ok {
		return true
	}
	return !cl.IsConnected()
}

func (c Connector) Close(conn any) error {
	cl, ok := conn.(paho.Client)
	if !ok {
		return nil
	}
	cl.Disconnect(250)
	return nil
}

var _ device.Connector = Connector{}

// sourceInboxCapacity sizes the channel paho's subscribe callback forwards
// into; generous buffer approximates "unbounded" the same way the endpoint
// session's own inbox/feed channels do.
const sourceInboxCapacity = 256

// SourceDriver subscribes to Conf.Topic and surfaces each received message
// as a one-message batch.
type SourceDriver struct {
	conf   Conf
	client paho.Client
	in     chan *message.Batch
}

func NewSource(conf Conf) *SourceDriver {
	return &SourceDriver{conf: conf, in: make(chan *message.Batch, sourceInboxCapacity)}
}

func (d *SourceDriver) Role() endpoint.Role { return endpoint.RoleSource }

func (d *SourceDriver) Open(ctx context.Context, parentConn any) error {
	cl, ok := parentConn.(paho.Client)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "mqtt driver requires a paho.Client")
	}
	d.client = cl
	token := cl.Subscribe(d.conf.Topic, d.conf.QoS, d.onMessage)
	token.Wait()
	return token.Error()
}

func (d *SourceDriver) onMessage(_ paho.Client, m paho.Message) {
	msg := message.NewEmptyMessage()
	msg.Set("topic", message.String(m.Topic()))
	msg.Set("payload", message.Bytes(m.Payload()))
	batch := message.NewBatch("mqtt", uint64(time.Now().UnixMilli()))
	batch.Messages = append(batch.Messages, msg)
	select {
	case d.in <- batch:
	default:
	}
}

func (d *SourceDriver) Close() error {
	if d.client != nil {
		token := d.client.Unsubscribe(d.conf.Topic)
		token.Wait()
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

// SinkDriver publishes every message in a batch onto Conf.Topic.
type SinkDriver struct {
	conf   Conf
	client paho.Client
}

func NewSink(conf Conf) *SinkDriver { return &SinkDriver{conf: conf} }

func (d *SinkDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *SinkDriver) Open(ctx context.Context, parentConn any) error {
	cl, ok := parentConn.(paho.Client)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "mqtt driver requires a paho.Client")
	}
	d.client = cl
	return nil
}

func (d *SinkDriver) Close() error { return nil }

func (d *SinkDriver) Publish(ctx context.Context, batch *message.Batch) error {
	payloads := make([][]byte, 0, len(batch.Messages)+1)
	if len(batch.Messages) == 0 {
		payloads = append(payloads, []byte("{}"))
	}
	for _, m := range batch.Messages {
		encoded, err := m.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: encode mqtt payload: %v", ferr.ErrProtocol, err)
		}
		payloads = append(payloads, encoded)
	}
	for _, payload := range payloads {
		token := d.client.Publish(d.conf.Topic, d.conf.QoS, d.conf.Retained, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: mqtt publish %s: %v", ferr.ErrTransport, d.conf.Topic, err)
		}
	}
	return nil
}

var _ endpoint.SinkDriver = (*SinkDriver)(nil)
