// Package joiner implements the Joiner Session Pool: one relayed DTLS
// handshake per admitted Joiner, steering-data Bloom filter admission, and
// the JOIN_FIN accept/reject decision.
//
// Grounded on mobile/client.go's dtlsClients pool shape
// (map[string]*client.ClientConn, mutex-guarded, AddOnClose cleanup) for
// the Pool's lifecycle, generalized from one shared upstream connection to
// many short-lived per-joiner relayed ones; the steering-data Bloom filter
// and JOIN_FIN accept/reject decision are new domain logic with no
// teacher analogue, built against original_source/include/commissioner's
// CommissionerHandler-style callback surface.
package joiner

import (
	"encoding/hex"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v2"

	"github.com/openthread/commissioner-core/coapengine"
	"github.com/openthread/commissioner-core/commerr"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/openthread/commissioner-core/tlv"
)

// CredentialProvider resolves the pre-shared Joiner Passphrase (PSKd) for
// an admitted Joiner ID. Its only method is the per-joiner PSKd lookup;
// the Token Manager does not use it.
type CredentialProvider interface {
	PSKdForJoiner(joinerID []byte) ([]byte, bool)
}

// Handler receives Joiner Session lifecycle events.
type Handler interface {
	// OnJoinerConnected fires once the relayed DTLS handshake completes
	// (or fails).
	OnJoinerConnected(joinerID []byte, err error)
	// OnJoinerFinalize fires when a JOIN_FIN.req arrives and decides
	// whether to accept the Joiner. The KEK itself is never the
	// application's concern: it is derived from the DTLS handshake and
	// delivered to the Joiner over JOIN_ENT before finalize is even
	// asked.
	OnJoinerFinalize(joinerID []byte, vendorData tlv.Set) (accept bool)
}

// Config configures a Pool.
type Config struct {
	MaxConnectionNum int
	Credentials      CredentialProvider
	Handler          Handler
	// SteeringData returns the currently installed Steering Data; called
	// fresh on every admission check since MgmtCommissionerSet can change
	// it at any time.
	SteeringData func() meshcop.SteeringData
}

// Pool manages every in-flight Joiner Session for one commissioner
// session.
type Pool struct {
	cfg    Config
	engine *coapengine.Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewPool constructs a Pool whose relayed traffic flows over engine (the
// parent commissioner session's CoAP engine).
func NewPool(cfg Config, engine *coapengine.Engine) *Pool {
	if cfg.MaxConnectionNum <= 0 {
		cfg.MaxConnectionNum = 100
	}
	return &Pool{cfg: cfg, engine: engine, sessions: make(map[string]*Session)}
}

func key(joinerID []byte) string { return hex.EncodeToString(joinerID) }

// HandleRelayRx dispatches an inbound RELAY_RX datagram to the Joiner
// Session it belongs to, starting a new Session (after a steering-data and
// capacity check) if this is the first datagram seen for joinerID.
func (p *Pool) HandleRelayRx(joinerID []byte, joinerUDPPort uint16, joinerIID []byte, routerLocator uint16, payload []byte) {
	p.mu.Lock()
	s, ok := p.sessions[key(joinerID)]
	if !ok {
		var err error
		s, err = p.admit(joinerID, joinerUDPPort, joinerIID, routerLocator)
		if err != nil {
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()
	s.relay.deliver(payload)
}

// admit checks steering-data membership and the connection-count bound,
// then starts a new Session's handshake goroutine. Caller holds p.mu.
func (p *Pool) admit(joinerID []byte, joinerUDPPort uint16, joinerIID []byte, routerLocator uint16) (*Session, error) {
	if len(p.sessions) >= p.cfg.MaxConnectionNum {
		return nil, commerr.New(commerr.Busy, "joiner: max simultaneous joiner sessions reached")
	}
	if p.cfg.SteeringData != nil && !p.cfg.SteeringData().Contains(joinerID) {
		return nil, commerr.New(commerr.Rejected, "joiner: id not admitted by steering data")
	}
	pskd, ok := (func() ([]byte, bool) {
		if p.cfg.Credentials == nil {
			return nil, false
		}
		return p.cfg.Credentials.PSKdForJoiner(joinerID)
	})()
	if !ok {
		return nil, commerr.New(commerr.Security, "joiner: no PSKd configured for this id")
	}

	relay := newRelayConn(p.engine, joinerUDPPort, joinerIID, routerLocator)
	s := &Session{
		JoinerID: append([]byte(nil), joinerID...),
		relay:    relay,
		pool:     p,
	}
	p.sessions[key(joinerID)] = s
	go s.run(pskd, p.cfg.Handler)
	return s, nil
}

// CloseAll tears down every active Joiner Session.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()
	for _, s := range sessions {
		_ = s.relay.Close()
	}
}

func (p *Pool) remove(joinerID []byte) {
	p.mu.Lock()
	delete(p.sessions, key(joinerID))
	p.mu.Unlock()
}

// Session is one Joiner's relayed DTLS tunnel, JOIN_ENT KEK delivery, and
// JOIN_FIN exchange.
type Session struct {
	JoinerID []byte

	relay *relayConn
	pool  *Pool

	mu  sync.Mutex
	kek []byte
}

// KEK returns the key-encryption-key handed to the Joiner over JOIN_ENT, or
// (nil, false) before the handshake has completed.
func (s *Session) KEK() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kek == nil {
		return nil, false
	}
	return s.kek, true
}

// kekExportLabel is the exporter label used to derive the Joiner Router KEK
// from the completed DTLS handshake (RFC 5705 keying-material export, the
// same mechanism crypto/tls.Conn.ExportKeyingMaterial exposes). Deriving it
// this way, rather than minting a random value, ties the KEK to the
// handshake both sides just ran, so only the two DTLS peers can compute it.
const kekExportLabel = "Thread Joiner KEK"

func (s *Session) run(pskd []byte, handler Handler) {
	defer s.pool.remove(s.JoinerID)
	defer s.relay.Close()

	dtlsConn, err := piondtls.Server(s.relay, &piondtls.Config{
		PSK: func([]byte) ([]byte, error) { return pskd, nil },
		PSKIdentityHint: s.JoinerID,
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
	})
	if handler != nil {
		handler.OnJoinerConnected(s.JoinerID, wrapDTLSError(err))
	}
	if err != nil {
		return
	}
	defer dtlsConn.Close()

	kek, err := dtlsConn.ExportKeyingMaterial(kekExportLabel, nil, 16)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.kek = kek
	s.mu.Unlock()

	if err := s.sendJoinEnt(dtlsConn, kek); err != nil {
		return
	}
	if err := s.finalize(dtlsConn, handler); err != nil {
		return
	}
}

func wrapDTLSError(err error) error {
	if err == nil {
		return nil
	}
	return commerr.Wrap(commerr.Security, err, "joiner: DTLS handshake failed")
}

// sendJoinEnt delivers the Thread KEK to the Joiner as its own exchange,
// distinct from (and preceding) JOIN_FIN: the Joiner needs the KEK to
// protect the network credentials it is about to receive, whether or not
// this commissioner ultimately accepts or rejects it at JOIN_FIN.
func (s *Session) sendJoinEnt(conn *piondtls.Conn, kek []byte) error {
	payload, err := tlv.Encode(tlv.Set{{Type: tlv.TypeJoinerRouterKek, Value: kek}})
	if err != nil {
		return err
	}
	msg := coapMessage{
		Type:    msgConfirmable,
		Code:    codePost,
		ID:      newMessageID(),
		Token:   newToken(),
		Path:    meshcop.JoinEnt,
		Payload: payload,
	}
	if _, err := conn.Write(msg.encode()); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return commerr.Wrap(commerr.Timeout, err, "joiner: no JOIN_ENT.rsp received")
	}
	_, err = decode(buf[:n])
	return err
}

// finalize waits for JOIN_FIN.req, asks handler whether to accept, and
// sends JOIN_FIN.rsp with the resulting State TLV. The KEK was already
// delivered over JOIN_ENT, so JOIN_FIN only carries the accept/reject
// result.
func (s *Session) finalize(conn *piondtls.Conn, handler Handler) error {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return commerr.Wrap(commerr.Timeout, err, "joiner: no JOIN_FIN.req received")
	}
	req, err := decode(buf[:n])
	if err != nil {
		return err
	}
	vendorData, err := tlv.Decode(req.Payload)
	if err != nil {
		return err
	}

	accept := false
	if handler != nil {
		accept = handler.OnJoinerFinalize(s.JoinerID, vendorData)
	}

	respSet := tlv.Set{}
	if accept {
		respSet = append(respSet, tlv.TLV{Type: tlv.TypeState, Value: []byte{1}})
	} else {
		respSet = append(respSet, tlv.TLV{Type: tlv.TypeState, Value: []byte{0}})
	}
	payload, err := tlv.Encode(respSet)
	if err != nil {
		return err
	}
	resp := coapMessage{
		Type:    msgAcknowledgement,
		Code:    codeChanged,
		ID:      req.ID,
		Token:   req.Token,
		Path:    meshcop.JoinFin,
		Payload: payload,
	}
	_, err = conn.Write(resp.encode())
	return err
}
