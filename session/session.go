// Package session implements the Commissioner Session state machine:
// Petition/KeepAlive/Resign, dataset Get/Set, and the MeshCoP management
// commands. Every operation runs on the session's single run loop. Only
// Petition has an asynchronous form (PetitionAsync, callback on
// completion); every other operation blocks the caller until the run loop
// has executed it. In-loop-invocation detection lives one layer up, in the
// root commissioner (facade) package.
//
// The state machine itself is grounded on
// original_source/include/commissioner/commissioner.hpp's State enum and
// method surface; its single-goroutine dispatch loop is shaped after the
// teacher's cmd/proxy/proxy.go server dispatcher, repointed from serving
// inbound HTTP to driving outbound CoAP requests in order.
package session

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/sirupsen/logrus"

	"github.com/openthread/commissioner-core/coapengine"
	"github.com/openthread/commissioner-core/commerr"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/openthread/commissioner-core/tlv"
	"github.com/openthread/commissioner-core/token"
)

// State is one of the four Commissioner Session states.
type State int

const (
	StateDisabled State = iota
	StateConnected
	StatePetitioning
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "Disabled"
	case StateConnected:
		return "Connected"
	case StatePetitioning:
		return "Petitioning"
	case StateActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// Handler receives unsolicited/terminal events from the session.
type Handler interface {
	OnStateChanged(s State)
	OnKeepAliveResponse(err error)
	OnPanIdConflict(peerAddr string, conflict tlv.Set)
	OnEnergyReport(peerAddr string, report tlv.Set)
	OnDiagGetAnswerMessage(peerAddr string, answer tlv.Set)
	OnDatasetChanged()
}

// NopHandler is a Handler implementation with no-op methods, embeddable by
// callers that only care about a subset of events.
type NopHandler struct{}

func (NopHandler) OnStateChanged(State)                             {}
func (NopHandler) OnKeepAliveResponse(error)                        {}
func (NopHandler) OnPanIdConflict(string, tlv.Set)                  {}
func (NopHandler) OnEnergyReport(string, tlv.Set)                   {}
func (NopHandler) OnDiagGetAnswerMessage(string, tlv.Set)           {}
func (NopHandler) OnDatasetChanged()                                {}

// Config mirrors the Config fields of SPEC_FULL.md §3.
type Config struct {
	EnableCcm         bool
	Id                string
	DomainName        string
	KeepAliveInterval time.Duration
	MaxConnectionNum  int
	Logger            *logrus.Logger
}

const (
	minKeepAliveInterval = 30 * time.Second
	maxKeepAliveInterval = 45 * time.Second
	maxIDBytes           = 64
)

// Validate enforces the boundaries spec.md §8 requires be rejected at
// construction rather than silently clamped (Open Question (b)).
func (c Config) Validate() error {
	if len(c.Id) > maxIDBytes {
		return commerr.New(commerr.InvalidArgs, "session: commissioner id exceeds 64 bytes")
	}
	if c.KeepAliveInterval < minKeepAliveInterval || c.KeepAliveInterval > maxKeepAliveInterval {
		return commerr.New(commerr.InvalidArgs, "session: keep-alive interval must be within [30s, 45s]")
	}
	return nil
}

// command is a closure submitted to the session's run loop; it executes
// serialized with every other command and callback this session delivers.
type command func()

// Session is a single Commissioner Session: one DTLS endpoint, one CoAP
// engine, and (in CCM mode) one Token Manager.
type Session struct {
	cfg     Config
	engine  *coapengine.Engine
	tokenMgr *token.Manager
	handler Handler
	log     *logrus.Entry

	mu        sync.RWMutex
	state     State
	sessionID uint16

	cmds    chan command
	loopGID int64 // goroutine id of run(), captured on first tick; 0 means not yet running

	kaCancel context.CancelFunc
	kaDone   chan struct{}
}

// New constructs a Session bound to engine (already connected over DTLS).
// tokenMgr may be nil when cfg.EnableCcm is false.
func New(cfg Config, engine *coapengine.Engine, tokenMgr *token.Manager, handler Handler) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = NopHandler{}
	}
	log := logrus.NewEntry(logrus.StandardLogger())
	if cfg.Logger != nil {
		log = logrus.NewEntry(cfg.Logger)
	}
	s := &Session{
		cfg:     cfg,
		engine:  engine,
		tokenMgr: tokenMgr,
		handler: handler,
		state:   StateConnected,
		log:     log,
		cmds:    make(chan command, 32),
	}
	go s.run()
	return s, nil
}

func (s *Session) run() {
	atomic.StoreInt64(&s.loopGID, GoroutineID())
	for cmd := range s.cmds {
		cmd()
	}
}

// LoopGoroutineID returns the goroutine id of this session's run loop, or
// 0 if the loop hasn't ticked yet. The facade compares this against
// GoroutineID() to detect (and reject, rather than deadlock on) a
// blocking call made from within a callback this session delivered.
func (s *Session) LoopGoroutineID() int64 {
	return atomic.LoadInt64(&s.loopGID)
}

// GoroutineID extracts the calling goroutine's id from its runtime stack
// trace. There is no supported API for this; parsing the "goroutine N ["
// prefix of runtime.Stack's output is the standard workaround reached for
// whenever code needs to recognize "am I still on goroutine X".
func GoroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// submit enqueues cmd on the run loop and blocks until it has executed,
// returning err from the closure via the channel-captured variable
// pattern. Callers on the loop goroutine itself would deadlock here; the
// facade layer is responsible for detecting that case before calling in.
func (s *Session) submit(fn func() error) error {
	done := make(chan error, 1)
	s.cmds <- func() {
		done <- fn()
	}
	return <-done
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.handler.OnStateChanged(next)
}

// GetState returns the current session state.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsActive reports whether the session currently holds commissioner
// authority with a valid session id.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateActive
}

// GetSessionId returns the Leader-assigned session id. Only meaningful
// while IsActive().
func (s *Session) GetSessionId() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) IsCcmMode() bool        { return s.cfg.EnableCcm }
func (s *Session) GetDomainName() string  { return s.cfg.DomainName }

// RejectedError carries the existing commissioner id surfaced by a
// rejected petition, per spec.md §4.4: "A rejected petition whose response
// contains an existing commissioner id surfaces that id to the caller as
// a structured rejection, not a bare error."
type RejectedError struct {
	ExistingCommissionerID string
}

func (e *RejectedError) Error() string {
	return "session: petition rejected, existing commissioner id: " + e.ExistingCommissionerID
}

// PetitionAsync sends a LEADER_PETITION request and invokes done when the
// Leader's response (or a transport failure) is known.
func (s *Session) PetitionAsync(done func(error)) {
	go func() {
		done(s.submit(s.petition))
	}()
}

// petition is the body of a LEADER_PETITION exchange. It runs on the loop
// goroutine, submitted there by PetitionAsync.
func (s *Session) petition() error {
	s.mu.Lock()
	s.state = StatePetitioning
	s.mu.Unlock()
	s.handler.OnStateChanged(StatePetitioning)

	set := tlv.Set{{Type: tlv.TypeCommissionerID, Value: []byte(s.cfg.Id)}}
	var path string
	if s.cfg.EnableCcm && s.tokenMgr != nil {
		token, err := s.tokenMgr.Token()
		if err != nil {
			s.setState(StateConnected)
			return err
		}
		set = append(set, tlv.TLV{Type: tlv.TypeCommissionerToken, Value: token})
		sig, err := s.tokenMgr.SignMessage(meshcop.Petitioning, set)
		if err != nil {
			s.setState(StateConnected)
			return err
		}
		set = append(set, tlv.TLV{Type: tlv.TypeCommissionerSignature, Value: sig})
	}
	path = meshcop.Petitioning

	payload, err := tlv.Encode(set)
	if err != nil {
		s.setState(StateConnected)
		return err
	}

	resp, err := s.engine.Do(context.Background(), coapengine.Request{
		Method: codes.POST, Path: path, Payload: payload,
		ContentFormat: 0, Confirmable: true,
	})
	if err != nil {
		s.setState(StateConnected)
		return err
	}
	respSet, err := coapengine.DecodeTLV(resp)
	if err != nil {
		s.setState(StateConnected)
		return err
	}

	stateTLV, _ := respSet.Get(tlv.TypeState)
	if len(stateTLV.Value) == 1 && stateTLV.Value[0] == 0 { // 0 == Reject
		existing, _ := respSet.Get(tlv.TypeCommissionerID)
		s.setState(StateConnected)
		return &RejectedError{ExistingCommissionerID: string(existing.Value)}
	}

	if sid, ok := respSet.Get(tlv.TypeCommissionerSessionID); ok && len(sid.Value) == 2 {
		s.mu.Lock()
		s.sessionID = uint16(sid.Value[0])<<8 | uint16(sid.Value[1])
		s.mu.Unlock()
	}
	s.setState(StateActive)
	s.startKeepAlive()
	return nil
}

// startKeepAlive begins the periodic COMM_KA loop. Must be called with the
// session already Active.
func (s *Session) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	s.kaCancel = cancel
	s.kaDone = make(chan struct{})
	interval := s.cfg.KeepAliveInterval
	go func() {
		defer close(s.kaDone)
		// jitter each tick within [interval*0.9, interval*1.1] the
		// same way the retransmission backoff jitters ACK_TIMEOUT.
		timer := time.NewTimer(jitter(interval))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := s.submit(s.sendKeepAlive); err != nil {
					s.handler.OnKeepAliveResponse(err)
					s.setState(StateDisabled)
					return
				}
				s.handler.OnKeepAliveResponse(nil)
				timer.Reset(jitter(interval))
			}
		}
	}()
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.1
	return d - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

func (s *Session) sendKeepAlive() error {
	set := tlv.Set{{Type: tlv.TypeState, Value: []byte{1}}} // 1 == Accept/keep-alive
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	resp, err := s.engine.Do(context.Background(), coapengine.Request{
		Method: codes.POST, Path: meshcop.KeepAlive, Payload: payload, Confirmable: true,
	})
	if err != nil {
		return err
	}
	respSet, err := coapengine.DecodeTLV(resp)
	if err != nil {
		return err
	}
	if st, ok := respSet.Get(tlv.TypeState); ok && len(st.Value) == 1 && st.Value[0] == 0 {
		return commerr.New(commerr.Rejected, "session: keep-alive rejected")
	}
	return nil
}

// Resign sends a COMM_KA{Reject} and closes the session, transitioning to
// Disabled. Cancels pending requests implicitly.
func (s *Session) Resign() error {
	return s.submit(func() error {
		if s.kaCancel != nil {
			s.kaCancel()
			<-s.kaDone
		}
		set := tlv.Set{{Type: tlv.TypeState, Value: []byte{0}}}
		payload, _ := tlv.Encode(set)
		_, _ = s.engine.Do(context.Background(), coapengine.Request{
			Method: codes.POST, Path: meshcop.KeepAlive, Payload: payload, Confirmable: true,
		})
		s.engine.CancelAll()
		s.setState(StateDisabled)
		return nil
	})
}

// CancelRequests aborts every pending CoAP request with Cancelled.
func (s *Session) CancelRequests() {
	s.engine.CancelAll()
}

// datasetRequest issues a Confirmable GET/SET against path with the given
// payload (nil for GET) and returns the decoded response TLVs.
func (s *Session) datasetRequest(method codes.Code, path string, payload []byte) (tlv.Set, error) {
	var result tlv.Set
	err := s.submit(func() error {
		resp, err := s.engine.Do(context.Background(), coapengine.Request{
			Method: method, Path: path, Payload: payload, Confirmable: true,
		})
		if err != nil {
			return err
		}
		set, err := coapengine.DecodeTLV(resp)
		if err != nil {
			return err
		}
		if st, ok := set.Get(tlv.TypeState); ok && len(st.Value) == 1 && st.Value[0] == 0 {
			return commerr.New(commerr.Rejected, "session: dataset operation rejected")
		}
		result = set
		return nil
	})
	return result, err
}

func (s *Session) GetActiveDataset() (tlv.Set, error) {
	return s.datasetRequest(codes.GET, meshcop.MgmtActiveGet, nil)
}

// GetRawActiveDataset returns the uninterpreted TLV bytes exactly as
// received, per spec.md §4.4's "Raw variants".
func (s *Session) GetRawActiveDataset() ([]byte, error) {
	set, err := s.GetActiveDataset()
	if err != nil {
		return nil, err
	}
	return tlv.Encode(set)
}

func (s *Session) SetActiveDataset(set tlv.Set) error {
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	_, err = s.datasetRequest(codes.POST, meshcop.MgmtActiveSet, payload)
	return err
}

func (s *Session) GetPendingDataset() (tlv.Set, error) {
	return s.datasetRequest(codes.GET, meshcop.MgmtPendingGet, nil)
}

func (s *Session) SetPendingDataset(set tlv.Set) error {
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	_, err = s.datasetRequest(codes.POST, meshcop.MgmtPendingSet, payload)
	return err
}

// SetSecurePendingDataset attaches the CCM signature implicitly via the
// Token Manager before POSTing to the secure-pending-set URI.
func (s *Session) SetSecurePendingDataset(set tlv.Set) error {
	if s.tokenMgr != nil {
		sig, err := s.tokenMgr.SignMessage(meshcop.MgmtSecPendingSet, set)
		if err != nil {
			return err
		}
		set = append(set, tlv.TLV{Type: tlv.TypeCommissionerSignature, Value: sig})
	}
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	_, err = s.datasetRequest(codes.POST, meshcop.MgmtSecPendingSet, payload)
	return err
}

func (s *Session) GetCommissionerDataset() (tlv.Set, error) {
	return s.datasetRequest(codes.GET, meshcop.MgmtCommissionerGet, nil)
}

func (s *Session) SetCommissionerDataset(set tlv.Set) error {
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	_, err = s.datasetRequest(codes.POST, meshcop.MgmtCommissionerSet, payload)
	return err
}

func (s *Session) GetBbrDataset() (tlv.Set, error) {
	return s.datasetRequest(codes.GET, meshcop.MgmtBbrGet, nil)
}

func (s *Session) SetBbrDataset(set tlv.Set) error {
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	_, err = s.datasetRequest(codes.POST, meshcop.MgmtBbrSet, payload)
	return err
}

// managementCommand sends a one-shot management request. Multicast
// destinations are Non-confirmable and complete on send; unicast
// destinations are Confirmable and complete on ACK+response, per
// spec.md §4.4.
func (s *Session) managementCommand(path string, set tlv.Set, multicast bool) error {
	payload, err := tlv.Encode(set)
	if err != nil {
		return err
	}
	return s.submit(func() error {
		_, err := s.engine.Do(context.Background(), coapengine.Request{
			Method: codes.POST, Path: path, Payload: payload, Confirmable: !multicast,
		})
		return err
	})
}

func (s *Session) AnnounceBegin(channelMask tlv.TLV, count, period uint16, destMulticast bool) error {
	set := tlv.Set{channelMask}
	return s.managementCommand(meshcop.MgmtAnnounceBegin, set, destMulticast)
}

func (s *Session) PanIdQuery(channelMask, panID tlv.TLV, destMulticast bool) error {
	return s.managementCommand(meshcop.MgmtPanidQuery, tlv.Set{channelMask, panID}, destMulticast)
}

func (s *Session) EnergyScan(channelMask, count, period, scanDuration tlv.TLV, destMulticast bool) error {
	return s.managementCommand(meshcop.MgmtEdScan, tlv.Set{channelMask, count, period, scanDuration}, destMulticast)
}

func (s *Session) RegisterMulticastListener(addresses tlv.Set, timeout tlv.TLV) error {
	return s.managementCommand(meshcop.MulticastListenerRegistration, append(addresses, timeout), true)
}

// dstAddrTLV encodes a destination device's IPv6 address as the IPv6
// Address TLV the Border Agent uses to route a per-device management
// command (Reenroll, Domain Reset, Migrate, Diagnostic Get/Reset) to the
// right downstream Thread device over the mesh - these commands still go
// out over the single Border Agent connection this engine holds, the TLV
// is what tells the Border Agent who the eventual target is.
func dstAddrTLV(dstAddr string) (tlv.TLV, error) {
	ip := net.ParseIP(dstAddr)
	if ip == nil {
		return tlv.TLV{}, commerr.New(commerr.InvalidArgs, fmt.Sprintf("session: invalid destination address %q", dstAddr))
	}
	if ip.To4() != nil {
		return tlv.TLV{}, commerr.New(commerr.InvalidArgs, fmt.Sprintf("session: destination address %q is not IPv6", dstAddr))
	}
	return tlv.TLV{Type: tlv.TypeIPv6Address, Value: ip.To16()}, nil
}

func (s *Session) CommandReenroll(dstAddr string) error {
	addr, err := dstAddrTLV(dstAddr)
	if err != nil {
		return err
	}
	return s.managementCommand(meshcop.MgmtReenroll, tlv.Set{addr}, false)
}

func (s *Session) CommandDomainReset(dstAddr string) error {
	addr, err := dstAddrTLV(dstAddr)
	if err != nil {
		return err
	}
	return s.managementCommand(meshcop.MgmtDomainReset, tlv.Set{addr}, false)
}

func (s *Session) CommandMigrate(dstAddr, designatedNetwork string) error {
	addr, err := dstAddrTLV(dstAddr)
	if err != nil {
		return err
	}
	set := tlv.Set{addr, {Type: tlv.TypeNetworkName, Value: []byte(designatedNetwork)}}
	return s.managementCommand(meshcop.MgmtNetMigrate, set, false)
}

func (s *Session) CommandDiagGetQuery(dstAddr string, diagTypes tlv.TLV) error {
	addr, err := dstAddrTLV(dstAddr)
	if err != nil {
		return err
	}
	return s.managementCommand(meshcop.DiagGetQuery, tlv.Set{addr, diagTypes}, false)
}

func (s *Session) CommandDiagReset(dstAddr string, diagTypes tlv.TLV) error {
	addr, err := dstAddrTLV(dstAddr)
	if err != nil {
		return err
	}
	return s.managementCommand(meshcop.DiagReset, tlv.Set{addr, diagTypes}, false)
}
