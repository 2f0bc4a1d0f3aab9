package joiner

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/openthread/commissioner-core/coapengine"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/openthread/commissioner-core/tlv"
)

// relayConn presents a single Joiner's relayed datagram stream as a
// net.Conn, so the DTLS handshake library can run against it exactly as
// it runs against a real UDP socket. Outbound bytes are wrapped in a
// RELAY_TX CoAP request on the parent commissioner session's engine;
// inbound bytes arrive via deliver, called by Pool.HandleRelayRx when the
// parent session receives a RELAY_RX request from the Border Agent.
type relayConn struct {
	engine        *coapengine.Engine
	joinerUDPPort uint16
	joinerIID     []byte
	routerLocator uint16

	inbound chan []byte
	closed  chan struct{}
}

func newRelayConn(engine *coapengine.Engine, joinerUDPPort uint16, joinerIID []byte, routerLocator uint16) *relayConn {
	return &relayConn{
		engine:        engine,
		joinerUDPPort: joinerUDPPort,
		joinerIID:     joinerIID,
		routerLocator: routerLocator,
		inbound:       make(chan []byte, 16),
		closed:        make(chan struct{}),
	}
}

// deliver hands a RELAY_RX datagram payload to whoever is Read()ing this
// connection. It never blocks: a full inbound queue drops the oldest
// datagram, matching UDP's no-retransmission-at-this-layer semantics.
func (c *relayConn) deliver(b []byte) {
	select {
	case c.inbound <- b:
	default:
		select {
		case <-c.inbound:
		default:
		}
		select {
		case c.inbound <- b:
		default:
		}
	}
}

func (c *relayConn) Read(b []byte) (int, error) {
	select {
	case datagram, ok := <-c.inbound:
		if !ok {
			return 0, errors.New("joiner: relay connection closed")
		}
		n := copy(b, datagram)
		return n, nil
	case <-c.closed:
		return 0, errors.New("joiner: relay connection closed")
	}
}

func (c *relayConn) Write(b []byte) (int, error) {
	set := tlv.Set{
		{Type: tlv.TypeJoinerUdpPort, Value: uint16TLV(c.joinerUDPPort)},
		{Type: tlv.TypeJoinerIid, Value: c.joinerIID},
		{Type: tlv.TypeJoinerRouterLocator, Value: uint16TLV(c.routerLocator)},
		{Type: tlv.TypeUDPEncapsulation, Value: b},
	}
	payload, err := tlv.Encode(set)
	if err != nil {
		return 0, err
	}
	_, err = c.engine.Do(context.Background(), coapengine.Request{
		Method: codes.POST, Path: meshcop.RelayTx, Payload: payload, Confirmable: false,
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *relayConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *relayConn) LocalAddr() net.Addr                { return relayAddr{} }
func (c *relayConn) RemoteAddr() net.Addr               { return relayAddr{} }
func (c *relayConn) SetDeadline(time.Time) error         { return nil }
func (c *relayConn) SetReadDeadline(time.Time) error     { return nil }
func (c *relayConn) SetWriteDeadline(time.Time) error    { return nil }

type relayAddr struct{}

func (relayAddr) Network() string { return "relay" }
func (relayAddr) String() string  { return "relay" }

func uint16TLV(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
