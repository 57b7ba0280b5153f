// Package modbus implements the Modbus TCP source/sink protocol adapter
// (spec.md §1, SPEC_FULL.md §2) against github.com/goburrow/modbus. Point
// read/decode shape is grounded on original_source's
// devices/src/modbus/{point,group_point}.rs; the client/handler wiring
// follows the teacher's pattern of one shared transport (here the TCP
// handler) owned by the device manager's Connector and one lightweight
// per-point poll loop owned by the endpoint session.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/fieldmesh/core/engine/ferr"
	"github.com/fieldmesh/core/engine/internal/device"
	"github.com/fieldmesh/core/engine/internal/endpoint"
	"github.com/fieldmesh/core/engine/message"
)

// Area is the Modbus register area a Point reads from, per
// original_source's Area enum.
type Area int

const (
	AreaInputDiscrete Area = iota
	AreaCoils
	AreaInputRegisters
	AreaHoldingRegisters
)

// DataType is the decoded width/encoding of one Point's raw register bytes.
type DataType int

const (
	TypeBool DataType = iota
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
)

// Quantity returns how many 16-bit registers this type spans — 1 for the
// 16-bit types and the bool/coil case, 2 for the 32-bit composite types
// (SPEC_FULL.md §3's "group/composite point addressing").
func (t DataType) Quantity() uint16 {
	switch t {
	case TypeUint32, TypeInt32, TypeFloat32:
		return 2
	default:
		return 1
	}
}

// Decode interprets raw register bytes (big-endian, as returned by the
// wire) according to t, producing the matching message.Value.
func (t DataType) Decode(data []byte) message.Value {
	switch t {
	case TypeBool:
		if len(data) == 0 {
			return message.Null()
		}
		return message.Bool(data[0] != 0)
	case TypeUint16:
		if len(data) < 2 {
			return message.Null()
		}
		return message.Int64(int64(binary.BigEndian.Uint16(data)))
	case TypeInt16:
		if len(data) < 2 {
			return message.Null()
		}
		return message.Int64(int64(int16(binary.BigEndian.Uint16(data))))
	case TypeUint32:
		if len(data) < 4 {
			return message.Null()
		}
		return message.Int64(int64(binary.BigEndian.Uint32(data)))
	case TypeInt32:
		if len(data) < 4 {
			return message.Null()
		}
		return message.Int64(int64(int32(binary.BigEndian.Uint32(data))))
	case TypeFloat32:
		if len(data) < 4 {
			return message.Null()
		}
		bits := binary.BigEndian.Uint32(data)
		return message.Float64(float64(math.Float32frombits(bits)))
	default:
		return message.Null()
	}
}

// Point is one addressable value on the device, per
// original_source/devices/src/modbus/point.rs.
type Point struct {
	Name     string
	Area     Area
	Address  uint16
	Type     DataType
	Slave    byte
}

// Conf is the Modbus device endpoint configuration.
type Conf struct {
	Address     string // TCP dial address, e.g. "10.0.0.5:502"
	IntervalMS  int64
	Timeout     time.Duration
	Points      []Point
}

// IsHot reports whether old→this requires a full stop/respawn: address,
// interval and the point list are all structural (hot); name/desc are not
// modelled here since Conf carries no BaseConf fields of its own.
func (c Conf) IsHot(old endpoint.Conf) bool {
	o, ok := old.(Conf)
	if !ok {
		return true
	}
	if o.Address != c.Address || o.IntervalMS != c.IntervalMS || len(o.Points) != len(c.Points) {
		return true
	}
	for i := range c.Points {
		if o.Points[i] != c.Points[i] {
			return true
		}
	}
	return false
}

// Connector dials the shared TCP handler for one Modbus device; owned by a
// device.ParentActor so every point's poll loop shares one TCP connection,
// per spec.md §4.2's parent-connection model.
type Connector struct {
	Address string
	Timeout time.Duration
}

func (c Connector) Connect(ctx context.Context) (any, error) {
	handler := gomodbus.NewTCPClientHandler(c.Address)
	if c.Timeout > 0 {
		handler.Timeout = c.Timeout
	}
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus dial %s: %w", c.Address, err)
	}
	return handler, nil
}

func (c Connector) Closed(conn any) bool {
	// goburrow's TCPClientHandler has no cheap liveness probe; rely on the
	// next read's transport error to surface the drop via the endpoint's
	// own error state.
	return false
}

func (c Connector) Close(conn any) error {
	h, ok := conn.(*gomodbus.TCPClientHandler)
	if !ok {
		return nil
	}
	return h.Close()
}

var _ device.Connector = Connector{}

// Driver polls every configured Point once per IntervalMS tick and packs
// the results into one message.Batch, per original_source's per-device read
// loop (point.rs's event_loop, inlined here as a single poll rather than
// one goroutine per point since the session's own ticking already provides
// that cadence).
type Driver struct {
	conf     Conf
	client   gomodbus.Client
	lastTick time.Time
}

func New(conf Conf) *Driver { return &Driver{conf: conf} }

func (d *Driver) Role() endpoint.Role { return endpoint.RoleSource }

func (d *Driver) Open(ctx context.Context, parentConn any) error {
	handler, ok := parentConn.(*gomodbus.TCPClientHandler)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "modbus driver requires a *TCPClientHandler")
	}
	d.client = gomodbus.NewClient(handler)
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

	msg := message.NewEmptyMessage()
	for _, p := range d.conf.Points {
		v, err := d.readPoint(p)
		if err != nil {
			return nil, fmt.Errorf("%w: point %s: %v", ferr.ErrTransport, p.Name, err)
		}
		msg.Set(p.Name, v)
	}
	batch := message.NewBatch("modbus", uint64(time.Now().UnixMilli()))
	batch.Messages = append(batch.Messages, msg)
	return batch, nil
}

func (d *Driver) readPoint(p Point) (message.Value, error) {
	n := p.Type.Quantity()
	var raw []byte
	var err error
	switch p.Area {
	case AreaInputDiscrete:
		raw, err = d.client.ReadDiscreteInputs(p.Address, n)
	case AreaCoils:
		raw, err = d.client.ReadCoils(p.Address, n)
	case AreaInputRegisters:
		raw, err = d.client.ReadInputRegisters(p.Address, n)
	case AreaHoldingRegisters:
		raw, err = d.client.ReadHoldingRegisters(p.Address, n)
	default:
		return message.Null(), ferr.NewInvalidConf("area", "unknown modbus area")
	}
	if err != nil {
		return message.Null(), err
	}
	return p.Type.Decode(raw), nil
}

var _ endpoint.SourceDriver = (*Driver)(nil)

// WriteDriver implements the sink side of a Modbus endpoint: writing a
// single point back to the device. Composite (multi-register) writes are
// deliberately unimplemented — spec.md's Open Questions leave the write
// semantics for group points unspecified, and SPEC_FULL.md §3 records the
// decision to return ErrNotImplemented rather than guess a byte order.
type WriteDriver struct {
	conf   Conf
	client gomodbus.Client
}

func NewWriteDriver(conf Conf) *WriteDriver { return &WriteDriver{conf: conf} }

func (d *WriteDriver) Role() endpoint.Role { return endpoint.RoleSink }

func (d *WriteDriver) Open(ctx context.Context, parentConn any) error {
	handler, ok := parentConn.(*gomodbus.TCPClientHandler)
	if !ok {
		return ferr.NewInvalidConf("parent_conn", "modbus driver requires a *TCPClientHandler")
	}
	d.client = gomodbus.NewClient(handler)
	return nil
}

func (d *WriteDriver) Close() error { return nil }

func (d *WriteDriver) Publish(ctx context.Context, batch *message.Batch) error {
	for _, msg := range batch.Messages {
		for _, p := range d.conf.Points {
			v, ok := msg.Get(p.Name)
			if !ok {
				continue
			}
			if p.Type.Quantity() > 1 {
				return ferr.ErrNotImplemented
			}
			iv, ok := v.AsInt64()
			if !ok {
				continue
			}
			if _, err := d.client.WriteSingleRegister(p.Address, uint16(iv)); err != nil {
				return fmt.Errorf("%w: write point %s: %v", ferr.ErrTransport, p.Name, err)
			}
		}
	}
	return nil
}

var _ endpoint.SinkDriver = (*WriteDriver)(nil)
