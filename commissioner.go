// Package commissioner is the facade: one Commissioner per Border Agent
// connection, exposing the session, joiner and token operations. Petition
// has both a blocking form and an asynchronous form (PetitionAsync,
// callback on completion); every other operation is blocking only.
// Session events are delivered on a serialized callback queue.
//
// Grounded on original_source/include/commissioner/commissioner.hpp's
// Commissioner interface (one method pair - blocking and
// Handler-callback - per operation) and cmd/proxy/proxy.go's
// construction/shutdown bootstrap shape, repointed from a Matrix
// homeserver proxy at a MeshCoP Border Agent.
package commissioner

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/sirupsen/logrus"

	"github.com/openthread/commissioner-core/coapengine"
	"github.com/openthread/commissioner-core/commerr"
	"github.com/openthread/commissioner-core/dtlstransport"
	"github.com/openthread/commissioner-core/joiner"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/openthread/commissioner-core/session"
	"github.com/openthread/commissioner-core/tlv"
	"github.com/openthread/commissioner-core/token"
)

// Config configures a Commissioner end to end: identity, CCM key material,
// transport parameters, and the callbacks that receive unsolicited events.
type Config struct {
	Id                string
	DomainName        string
	EnableCcm         bool
	KeepAliveInterval time.Duration
	MaxConnectionNum  int

	// Transport
	PSK                []byte
	PSKHint            []byte
	TrustAnchor        interface{ Subjects() [][]byte }
	InsecureSkipVerify bool

	// CCM key material - required when EnableCcm is true.
	PrivateKey        *ecdsa.PrivateKey
	PublicKey         *ecdsa.PublicKey
	DomainCAPublicKey *ecdsa.PublicKey
	AlwaysAcceptToken bool

	// Credentials resolves PSKd for admitted joiners.
	Credentials joiner.CredentialProvider
	// SteeringData returns the currently installed Steering Data.
	SteeringData func() meshcop.SteeringData

	Handler EventHandler
	Logger  *logrus.Logger
}

// EventHandler receives every unsolicited event a Commissioner can
// surface: session state transitions, keep-alive results, PAN ID
// conflicts, energy reports, diagnostic answers, and Joiner Session
// lifecycle events.
type EventHandler interface {
	session.Handler
	joiner.Handler
}

// NopEventHandler embeds no-op implementations of both halves of
// EventHandler.
type NopEventHandler struct {
	session.NopHandler
}

func (NopEventHandler) OnJoinerConnected([]byte, error)       {}
func (NopEventHandler) OnJoinerFinalize([]byte, tlv.Set) bool { return false }

// Commissioner is the top-level facade: one DTLS connection, one
// session.Session, one joiner.Pool, and (in CCM mode) one token.Manager.
type Commissioner struct {
	cfg      Config
	log      *logrus.Entry
	connPool *dtlstransport.Pool
	engine   *coapengine.Engine
	sess     *session.Session
	joiners  *joiner.Pool
	tokenMgr *token.Manager

	callbacks chan func()
}

// New validates cfg and constructs a Commissioner. It does not connect;
// call Connect to dial the Border Agent.
func New(cfg Config) (*Commissioner, error) {
	if cfg.Handler == nil {
		cfg.Handler = NopEventHandler{}
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 40 * time.Second
	}
	if err := (session.Config{Id: cfg.Id, KeepAliveInterval: cfg.KeepAliveInterval}).Validate(); err != nil {
		return nil, err
	}
	log := logrus.NewEntry(logrus.StandardLogger())
	if cfg.Logger != nil {
		log = logrus.NewEntry(cfg.Logger)
	}

	var tokenMgr *token.Manager
	if cfg.EnableCcm {
		var err error
		tokenMgr, err = token.New(token.Config{
			CommissionerID:    cfg.Id,
			DomainName:        cfg.DomainName,
			PrivateKey:        cfg.PrivateKey,
			PublicKey:         cfg.PublicKey,
			DomainCAPublicKey: cfg.DomainCAPublicKey,
			AlwaysAccept:      cfg.AlwaysAcceptToken,
		})
		if err != nil {
			return nil, err
		}
	}

	c := &Commissioner{
		cfg:      cfg,
		log:      log,
		connPool: dtlstransport.NewPool(log),
		tokenMgr: tokenMgr,
		callbacks: make(chan func(), 64),
	}
	go c.runCallbacks()
	return c, nil
}

func (c *Commissioner) runCallbacks() {
	for cb := range c.callbacks {
		cb()
	}
}

// postCallback enqueues a user-facing callback for serialized delivery, so
// two events never race inside the caller's handler.
func (c *Commissioner) postCallback(fn func()) {
	c.callbacks <- fn
}

// inLoop reports whether the calling goroutine is the session's own run
// loop - calling a blocking sync method from inside a callback delivered
// by that loop would deadlock, so sync wrappers check this first.
func (c *Commissioner) inLoop() bool {
	return c.sess != nil && session.GoroutineID() == c.sess.LoopGoroutineID()
}

// Connect dials the Border Agent at addr, performs the DTLS handshake, and
// brings the session to the Connected state. This registers the inbound
// dispatcher that routes Border-Agent-initiated pushes (RELAY_RX, PAN ID
// conflict, energy report, dataset changed) to the right place.
func (c *Commissioner) Connect(ctx context.Context, addr string) error {
	params := dtlstransport.DefaultParams()
	params.PSK = c.cfg.PSK
	params.PSKHint = c.cfg.PSKHint
	params.RootCAs = c.cfg.TrustAnchor
	params.InsecureSkipVerify = c.cfg.InsecureSkipVerify
	params.InboundHandler = coapengine.NewInboundHandlerFunc(c.dispatchInbound)

	conn, err := c.connPool.Dial("upstream", addr, params)
	if err != nil {
		return err
	}
	c.engine = coapengine.New(conn)
	c.joiners = joiner.NewPool(joiner.Config{
		MaxConnectionNum: c.cfg.MaxConnectionNum,
		Credentials:      c.cfg.Credentials,
		SteeringData:     c.cfg.SteeringData,
		Handler:          c.cfg.Handler,
	}, c.engine)

	keepAlive := c.cfg.KeepAliveInterval
	if keepAlive == 0 {
		keepAlive = 40 * time.Second
	}
	sess, err := session.New(session.Config{
		EnableCcm:         c.cfg.EnableCcm,
		Id:                c.cfg.Id,
		DomainName:        c.cfg.DomainName,
		KeepAliveInterval: keepAlive,
		MaxConnectionNum:  c.cfg.MaxConnectionNum,
		Logger:            c.cfg.Logger,
	}, c.engine, c.tokenMgr, &sessionHandlerAdapter{c})
	if err != nil {
		return err
	}
	c.sess = sess
	return nil
}

// dispatchInbound routes a server-initiated request by URI path.
func (c *Commissioner) dispatchInbound(req coapengine.InboundRequest) ([]byte, codes.Code) {
	switch req.Path {
	case meshcop.RelayRx:
		return c.handleRelayRx(req.Payload)
	case meshcop.MgmtPanidConflict:
		set, err := tlv.Decode(req.Payload)
		if err == nil {
			c.postCallback(func() { c.cfg.Handler.OnPanIdConflict("", set) })
		}
		return nil, codes.Changed
	case meshcop.MgmtEdReport:
		set, err := tlv.Decode(req.Payload)
		if err == nil {
			c.postCallback(func() { c.cfg.Handler.OnEnergyReport("", set) })
		}
		return nil, codes.Changed
	case meshcop.DiagGetAns:
		set, err := tlv.Decode(req.Payload)
		if err == nil {
			c.postCallback(func() { c.cfg.Handler.OnDiagGetAnswerMessage("", set) })
		}
		return nil, codes.Changed
	case meshcop.MgmtDatasetChanged:
		c.postCallback(c.cfg.Handler.OnDatasetChanged)
		return nil, codes.Changed
	default:
		return nil, codes.NotFound
	}
}

func (c *Commissioner) handleRelayRx(payload []byte) ([]byte, codes.Code) {
	set, err := tlv.Decode(payload)
	if err != nil || c.joiners == nil {
		return nil, codes.BadRequest
	}
	portTLV, _ := set.Get(tlv.TypeJoinerUdpPort)
	iidTLV, _ := set.Get(tlv.TypeJoinerIid)
	locTLV, _ := set.Get(tlv.TypeJoinerRouterLocator)
	encapTLV, ok := set.Get(tlv.TypeUDPEncapsulation)
	if !ok || len(iidTLV.Value) != 8 {
		return nil, codes.BadRequest
	}
	joinerID := meshcop.ComputeJoinerID(beUint64(iidTLV.Value))
	var port, loc uint16
	if len(portTLV.Value) == 2 {
		port = beUint16(portTLV.Value)
	}
	if len(locTLV.Value) == 2 {
		loc = beUint16(locTLV.Value)
	}
	c.joiners.HandleRelayRx(joinerID, port, iidTLV.Value, loc, encapTLV.Value)
	return nil, codes.Changed
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// --- Synchronous wrappers -------------------------------------------------

// Petition blocks until the Leader has responded to a LEADER_PETITION.
// Calling this from inside a callback delivered by this Commissioner
// returns commerr.InvalidState instead of deadlocking.
func (c *Commissioner) Petition() error {
	if err := c.guardSync(); err != nil {
		return err
	}
	done := make(chan error, 1)
	c.sess.PetitionAsync(func(err error) { done <- err })
	return <-done
}

// PetitionAsync is the non-blocking form; handler fires on completion,
// delivered on the Commissioner's serialized callback queue.
func (c *Commissioner) PetitionAsync(handler func(error)) {
	c.sess.PetitionAsync(func(err error) {
		c.postCallback(func() { handler(err) })
	})
}

func (c *Commissioner) Resign() error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.Resign()
}

func (c *Commissioner) GetState() session.State { return c.sess.GetState() }
func (c *Commissioner) IsActive() bool          { return c.sess.IsActive() }
func (c *Commissioner) GetSessionId() uint16    { return c.sess.GetSessionId() }
func (c *Commissioner) IsCcmMode() bool         { return c.sess.IsCcmMode() }
func (c *Commissioner) GetDomainName() string   { return c.sess.GetDomainName() }

func (c *Commissioner) CancelRequests() {
	c.sess.CancelRequests()
	if c.joiners != nil {
		c.joiners.CloseAll()
	}
}

func (c *Commissioner) GetActiveDataset() (tlv.Set, error) {
	if err := c.guardSync(); err != nil {
		return nil, err
	}
	return c.sess.GetActiveDataset()
}
func (c *Commissioner) GetRawActiveDataset() ([]byte, error) {
	if err := c.guardSync(); err != nil {
		return nil, err
	}
	return c.sess.GetRawActiveDataset()
}
func (c *Commissioner) SetActiveDataset(set tlv.Set) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.SetActiveDataset(set)
}
func (c *Commissioner) GetPendingDataset() (tlv.Set, error) {
	if err := c.guardSync(); err != nil {
		return nil, err
	}
	return c.sess.GetPendingDataset()
}
func (c *Commissioner) SetPendingDataset(set tlv.Set) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.SetPendingDataset(set)
}
func (c *Commissioner) SetSecurePendingDataset(set tlv.Set) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.SetSecurePendingDataset(set)
}
func (c *Commissioner) GetCommissionerDataset() (tlv.Set, error) {
	if err := c.guardSync(); err != nil {
		return nil, err
	}
	return c.sess.GetCommissionerDataset()
}
func (c *Commissioner) SetCommissionerDataset(set tlv.Set) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.SetCommissionerDataset(set)
}
func (c *Commissioner) GetBbrDataset() (tlv.Set, error) {
	if err := c.guardSync(); err != nil {
		return nil, err
	}
	return c.sess.GetBbrDataset()
}
func (c *Commissioner) SetBbrDataset(set tlv.Set) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.SetBbrDataset(set)
}

// guardSync is the inLoop check every blocking synchronous method must run
// first: each of these ultimately calls session.Session.submit, which
// blocks until the run loop processes it and would deadlock forever if the
// calling goroutine IS the run loop (i.e. this call came from inside a
// callback this Commissioner delivered).
func (c *Commissioner) guardSync() error {
	if c.inLoop() {
		return commerr.New(commerr.InvalidState, "commissioner: cannot call a synchronous method from within a callback")
	}
	return nil
}

func (c *Commissioner) AnnounceBegin(channelMask tlv.TLV, count, period uint16, destMulticast bool) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.AnnounceBegin(channelMask, count, period, destMulticast)
}
func (c *Commissioner) PanIdQuery(channelMask, panID tlv.TLV, destMulticast bool) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.PanIdQuery(channelMask, panID, destMulticast)
}
func (c *Commissioner) EnergyScan(channelMask, count, period, scanDuration tlv.TLV, destMulticast bool) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.EnergyScan(channelMask, count, period, scanDuration, destMulticast)
}
func (c *Commissioner) RegisterMulticastListener(addresses tlv.Set, timeout tlv.TLV) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.RegisterMulticastListener(addresses, timeout)
}
func (c *Commissioner) CommandReenroll(dstAddr string) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.CommandReenroll(dstAddr)
}
func (c *Commissioner) CommandDomainReset(dstAddr string) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.CommandDomainReset(dstAddr)
}
func (c *Commissioner) CommandMigrate(dstAddr, designatedNetwork string) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.CommandMigrate(dstAddr, designatedNetwork)
}
func (c *Commissioner) CommandDiagGetQuery(dstAddr string, diagTypes tlv.TLV) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.CommandDiagGetQuery(dstAddr, diagTypes)
}
func (c *Commissioner) CommandDiagReset(dstAddr string, diagTypes tlv.TLV) error {
	if err := c.guardSync(); err != nil {
		return err
	}
	return c.sess.CommandDiagReset(dstAddr, diagTypes)
}

// RequestToken acquires a COM_TOK from the registrar at addr, over a
// dedicated short-lived DTLS connection separate from the Border Agent
// session.
func (c *Commissioner) RequestToken(ctx context.Context, addr string) error {
	if c.tokenMgr == nil {
		return commerr.New(commerr.InvalidState, "commissioner: CCM is not enabled")
	}
	params := dtlstransport.DefaultParams()
	conn, err := c.connPool.Dial("registrar", addr, params)
	if err != nil {
		return err
	}
	defer c.connPool.Close("registrar")
	engine := coapengine.New(conn)
	defer engine.Close()
	return c.tokenMgr.RequestToken(ctx, engine)
}

// Close tears down every connection and goroutine owned by this
// Commissioner.
func (c *Commissioner) Close() error {
	if c.joiners != nil {
		c.joiners.CloseAll()
	}
	c.connPool.CloseAll()
	close(c.callbacks)
	return nil
}

// sessionHandlerAdapter forwards session.Handler events to the facade's
// serialized callback queue.
type sessionHandlerAdapter struct{ c *Commissioner }

func (a *sessionHandlerAdapter) OnStateChanged(s session.State) {
	a.c.postCallback(func() { a.c.cfg.Handler.OnStateChanged(s) })
}
func (a *sessionHandlerAdapter) OnKeepAliveResponse(err error) {
	a.c.postCallback(func() { a.c.cfg.Handler.OnKeepAliveResponse(err) })
}
func (a *sessionHandlerAdapter) OnPanIdConflict(peerAddr string, conflict tlv.Set) {
	a.c.postCallback(func() { a.c.cfg.Handler.OnPanIdConflict(peerAddr, conflict) })
}
func (a *sessionHandlerAdapter) OnEnergyReport(peerAddr string, report tlv.Set) {
	a.c.postCallback(func() { a.c.cfg.Handler.OnEnergyReport(peerAddr, report) })
}
func (a *sessionHandlerAdapter) OnDiagGetAnswerMessage(peerAddr string, answer tlv.Set) {
	a.c.postCallback(func() { a.c.cfg.Handler.OnDiagGetAnswerMessage(peerAddr, answer) })
}
func (a *sessionHandlerAdapter) OnDatasetChanged() {
	a.c.postCallback(a.c.cfg.Handler.OnDatasetChanged)
}
