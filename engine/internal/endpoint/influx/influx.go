// Package influx implements the InfluxDB sink north-bound app protocol
// adapter against github.com/influxdata/influxdb-client-go/v2, named per
// original_source's apps/src/influxdb* (out-of-pack dependency, named in
// SPEC_FULL.md §2). One shared influxdb2.Client per app is owned by the
// device manager's ParentActor.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Conf configures an InfluxDB sink endpoint.
type Conf struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	TagField    string // message field whose value becomes a tag of the same name
}

func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	return o.URL != c.URL || o.Org != c.Org || o.Bucket != c.Bucket
}

// Connector owns the shared influxdb2.Client for one app.
type Connector struct {
	URL   string
	Token string
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	client := influxdb2.NewClient(c.URL, c.Token)
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb ping %s: %v", ferr.ErrTransport, c.URL, err)
	}
	return client, nil
}

func (c Connector) Closed(conn any) bool {
	_, ok := conn.(influxdb2.Client)
	return !ok
}

func (c Connector) Close(conn any) error {
	client, ok := conn.(influxdb2.Client)
	if !ok {
		return nil
	}
	client.Close()
	return nil
}

var _ device.Connector = Connector{}

// SinkDriver writes one InfluxDB point per message, using every non-tag
// field of the message's top-level object as a numeric/string field value.
type SinkDriver struct {
	conf     Conf
	writeAPI api.WriteAPIBlocking
}

func NewSink(conf Conf) *SinkDriver { return &SinkDriver{conf: conf} }

func (d *SinkDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *SinkDriver) Open(ctx context.Context, parentConn any) error {
	client, ok := parentConn.(influxdb2.Client)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "influx driver requires an influxdb2.Client")
	}
	d.writeAPI = client.WriteAPIBlocking(d.conf.Org, d.conf.Bucket)
	return nil
}

func (d *SinkDriver) Close() error { return nil }

func (d *SinkDriver) Publish(ctx context.Context, batch *message.Batch) error {
	ts := time.UnixMilli(int64(batch.Timestamp))
	for _, m := range batch.Messages {
		obj, ok := m.Value().AsObject()
		if !ok {
			continue
		}
		tags := map[string]string{}
		fields := map[string]any{}
		for k, v := range obj {
			if k == d.conf.TagField {
				tags[k] = v.String()
				continue
			}
			switch v.Kind() {
			case message.KindInt64:
				iv, _ := v.AsInt64()
				fields[k] = iv
			case message.KindFloat64:
				fv, _ := v.AsFloat64()
				fields[k] = fv
			case message.KindBool:
				bv, _ := v.AsBool()
				fields[k] = bv
			case message.KindString:
				sv, _ := v.AsString()
				fields[k] = sv
			default:
				fields[k] = v.String()
			}
		}
		if len(fields) == 0 {
			continue
		}
		point := influxdb2.NewPoint(d.conf.Measurement, tags, fields, ts)
		if err := d.writeAPI.WritePoint(ctx, point); err != nil {
			return fmt.Errorf("%w: influxdb write: %v", ferr.ErrTransport, err)
		}
	}
	return nil
}

var _ endpoint.SinkDriver = (*SinkDriver)(nil)
