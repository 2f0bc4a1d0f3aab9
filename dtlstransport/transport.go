// Package dtlstransport manages DTLS connection lifecycle for the
// commissioner core: the upstream connection to a Border Agent and the
// short-lived connection to a registrar. Joiner Sessions do not use this
// pool; the joiner package relays them over the Border Agent connection.
// Grounded on the connection-pool shape of the teacher's
// mobile/client.go (dtlsClients: a mutex-guarded map of live connections
// with an AddOnClose cleanup callback), generalized from a single
// REST-proxy pool into a pool usable for both roles.
package dtlstransport

import (
	"sync"
	"time"

	coapdtls "github.com/plgd-dev/go-coap/v2/dtls"
	"github.com/plgd-dev/go-coap/v2/net/blockwise"
	"github.com/plgd-dev/go-coap/v2/udp/client"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
	piondtls "github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"

	"github.com/openthread/commissioner-core/commerr"
)

// Params controls DTLS handshake and CoAP transmission behaviour. Field
// names and defaults mirror the teacher's ConnectionParams.
type Params struct {
	// FlightInterval is the retry rate for DTLS handshake flights.
	FlightInterval time.Duration
	// HeartbeatTimeout controls how often empty CoAP heartbeats are sent
	// to keep NAT bindings (and, for the commissioner, the keep-alive
	// interval) active.
	HeartbeatTimeout time.Duration
	// ACKTimeout is the base CoAP Confirmable retransmission timeout
	// (RFC 7252 ACK_TIMEOUT). Defaults to 2s per spec.
	ACKTimeout time.Duration
	// MaxRetransmit is the number of retransmissions before a
	// Confirmable request times out (RFC 7252 MAX_RETRANSMIT).
	MaxRetransmit int

	// PSK, when set, configures a PSK-based DTLS cipher suite (non-CCM
	// commissioning, or joiner handshakes keyed by PSKd).
	PSK       []byte
	PSKHint   []byte
	// Certificates configures certificate-based DTLS (CCM commissioning).
	Certificates []piondtls.Certificate
	RootCAs      interface {
		Subjects() [][]byte
	}
	InsecureSkipVerify bool

	// InboundHandler, when set, handles server-initiated requests the
	// Border Agent pushes on this connection (RELAY_RX, PAN ID conflict,
	// energy report, dataset changed). Left nil, those pushes are ACKed
	// with no payload by the underlying library's default handler.
	InboundHandler func(w *client.ResponseWriter, r *pool.Message)
}

// DefaultParams match the spec's retransmission constants: ACK_TIMEOUT=2s,
// MAX_RETRANSMIT=4.
func DefaultParams() Params {
	return Params{
		FlightInterval:   time.Second,
		HeartbeatTimeout: 15 * time.Second,
		ACKTimeout:       2 * time.Second,
		MaxRetransmit:    4,
	}
}

// Pool manages live DTLS/CoAP connections keyed by remote address, exactly
// as the teacher's dtlsClients manages per-host connections - except here
// a connection may be either the single upstream commissioner connection
// or one of the joiner pool's relayed connections, so the caller supplies
// the key rather than it always being a hostname.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*client.ClientConn
	log   *logrus.Entry
}

// NewPool creates an empty connection pool.
func NewPool(log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{conns: make(map[string]*client.ClientConn), log: log}
}

// Dial establishes (or returns the existing) DTLS connection for key,
// dialing addr with the given Params on first use.
func (p *Pool) Dial(key, addr string, params Params) (*client.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if co, ok := p.conns[key]; ok {
		return co, nil
	}

	cfg := &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return params.PSK, nil
		},
		PSKIdentityHint:    params.PSKHint,
		Certificates:       params.Certificates,
		InsecureSkipVerify: params.InsecureSkipVerify,
		FlightInterval:     params.FlightInterval,
	}
	if len(params.Certificates) == 0 {
		cfg.CipherSuites = []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8}
	}

	opts := []coapdtls.Option{
		coapdtls.WithHeartBeat(params.HeartbeatTimeout),
		coapdtls.WithTransmission(time.Second, params.ACKTimeout, params.MaxRetransmit),
		coapdtls.WithBlockwise(true, blockwise.SZX1024, time.Minute),
		coapdtls.WithLogger(&logAdapter{p.log}),
	}
	if params.InboundHandler != nil {
		opts = append(opts, coapdtls.WithHandlerFunc(params.InboundHandler))
	}
	co, err := coapdtls.Dial(addr, cfg, opts...)
	if err != nil {
		return nil, commerr.Wrap(commerr.IOError, err, "dtlstransport: dial %s", addr)
	}

	p.conns[key] = co
	co.AddOnClose(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.conns, key)
		p.log.Infof("dtlstransport: connection %s closed", key)
	})
	return co, nil
}

// Close tears down the connection for key, if any.
func (p *Pool) Close(key string) error {
	p.mu.Lock()
	co, ok := p.conns[key]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return co.Close()
}

// CloseAll tears down every connection in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	var conns []*client.ClientConn
	for _, co := range p.conns {
		conns = append(conns, co)
	}
	p.mu.Unlock()
	for _, co := range conns {
		co.Close()
	}
}

// Get returns the connection for key, if live.
func (p *Pool) Get(key string) (*client.ClientConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	co, ok := p.conns[key]
	return co, ok
}

type logAdapter struct{ log *logrus.Entry }

func (l *logAdapter) Printf(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}
