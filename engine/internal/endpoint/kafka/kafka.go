// Package kafka implements the Kafka sink north-bound app protocol adapter
// against github.com/Shopify/sarama, the full sarama repo present in the
// example pack (Stars1233-sarama). One shared sarama.Client per app is
// owned by the device manager's ParentActor; each sink endpoint builds its
// own SyncProducer off that client so producer configuration stays
// per-topic while the TCP connections to the brokers are shared.
package kafka

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Conf configures a Kafka sink endpoint.
type Conf struct {
	Brokers []string
	Topic   string
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	if o.Topic != c.Topic || len(o.Brokers) != len(c.Brokers) {
		return true
	}
	for i := range c.Brokers {
		if o.Brokers[i] != c.Brokers[i] {
			return true
		}
	}
	return false
}

// Connector dials the shared sarama.Client for one app's brokers.
type Connector struct {
	Brokers []string
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka dial %v: %v", ferr.ErrTransport, c.Brokers, err)
	}
	return client, nil
}

func (c Connector) Closed(conn any) bool {
	client, ok := conn.(sarama.Client)
	if !ok {
		return true
	}
	return client.Closed()
}

func (c Connector) Close(conn any) error {
	client, ok := conn.(sarama.Client)
	if !ok {
		return nil
	}
	return client.Close()
}

var _ device.Connector = Connector{}

// SinkDriver publishes each message in a batch as one Kafka record keyed by
// the batch name.
type SinkDriver struct {
	conf     Conf
	producer sarama.SyncProducer
}

func NewSink(conf Conf) *SinkDriver { return &SinkDriver{conf: conf} }

func (d *SinkDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *SinkDriver) Open(ctx context.Context, parentConn any) error {
	client, ok := parentConn.(sarama.Client)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "kafka driver requires a sarama.Client")
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return fmt.Errorf("%w: kafka producer init: %v", ferr.ErrTransport, err)
	}
	d.producer = producer
	return nil
}

func (d *SinkDriver) Close() error {
	if d.producer != nil {
		return d.producer.Close()
	}
	return nil
}

func (d *SinkDriver) Publish(ctx context.Context, batch *message.Batch) error {
	for _, m := range batch.Messages {
		payload, err := m.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: encode kafka payload: %v", ferr.ErrProtocol, err)
		}
		msg := &sarama.ProducerMessage{
			Topic: d.conf.Topic,
			Key:   sarama.StringEncoder(batch.Name),
			Value: sarama.ByteEncoder(payload),
		}
		if _, _, err := d.producer.SendMessage(msg); err != nil {
			return fmt.Errorf("%w: kafka send %s: %v", ferr.ErrTransport, d.conf.Topic, err)
		}
	}
	return nil
}

var _ endpoint.SinkDriver = (*SinkDriver)(nil)
