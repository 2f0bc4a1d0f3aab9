// Package token implements the CCM Token Manager: COM_TOK acquisition
// from a registrar, atomic storage with rollback, and COM_TOK_SIG
// message-signing/verification. In CCM mode the session signs
// LEADER_PETITION and MGMT_SEC_PENDING_SET with it; the other dataset
// writes and the management commands are sent unsigned.
//
// Grounded on original_source/src/library/token_manager.cpp: SignMessage
// and PrepareSigningContent are a direct structural port (the same
// "serialize the URI-Path option bytes, then the filtered/sorted TLV
// set" canonicalization), and SetToken's copy-then-validate-then-commit
// shape is kept so a bad token never clobbers a working one mid-update.
package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/binary"
	"math/big"
	"strings"
	"sync"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/openthread/commissioner-core/coapengine"
	"github.com/openthread/commissioner-core/commerr"
	"github.com/openthread/commissioner-core/cose"
	"github.com/openthread/commissioner-core/cwt"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/openthread/commissioner-core/tlv"
)

const maxKeyIDLength = 16

// Config supplies the identity material a Token Manager signs and
// verifies with.
type Config struct {
	CommissionerID    string
	DomainName        string
	PrivateKey        *ecdsa.PrivateKey
	PublicKey         *ecdsa.PublicKey
	DomainCAPublicKey *ecdsa.PublicKey

	// AlwaysAccept skips Domain CA validation of an incoming token. It is
	// honoured whenever it is set; production deployments must leave this
	// false.
	AlwaysAccept bool
}

// Manager holds the current COM_TOK and the keys used to request, sign,
// and verify with it.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	signedToken []byte
	claims      cwt.Claims
	kid         []byte
	seq         uint64
}

// New validates cfg and constructs an unpopulated Manager (no token set
// yet; Token() fails until RequestToken or SetToken succeeds).
func New(cfg Config) (*Manager, error) {
	if cfg.PrivateKey == nil || cfg.PublicKey == nil {
		return nil, commerr.New(commerr.InvalidArgs, "token: commissioner key pair is required")
	}
	if !cfg.AlwaysAccept && cfg.DomainCAPublicKey == nil {
		return nil, commerr.New(commerr.InvalidArgs, "token: domain CA public key is required unless always-accept")
	}
	if cfg.CommissionerID == "" {
		return nil, commerr.New(commerr.InvalidArgs, "token: commissioner id is required")
	}
	if cfg.DomainName == "" {
		return nil, commerr.New(commerr.InvalidArgs, "token: domain name is required")
	}
	return &Manager{cfg: cfg}, nil
}

// Token returns the current COSE-signed COM_TOK bytes.
func (m *Manager) Token() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.signedToken) == 0 {
		return nil, commerr.New(commerr.InvalidState, "token: no Commissioner Token set")
	}
	return m.signedToken, nil
}

// RequestToken POSTs a CWT token request to the registrar over engine and
// stores the returned COM_TOK, mirroring
// TokenManager::SendTokenRequest/SetToken.
func (m *Manager) RequestToken(ctx context.Context, engine *coapengine.Engine) error {
	coseKey, err := publicKeyToCOSEKey(m.cfg.PublicKey, truncatedKeyID(m.cfg.CommissionerID))
	if err != nil {
		return err
	}
	reqBody := cwt.TokenRequest{
		GrantType: cwt.GrantTypeClientCredential,
		ClientID:  m.cfg.CommissionerID,
		Aud:       m.cfg.DomainName,
		ReqCnf:    cwt.Confirmation{COSEKey: coseKey},
	}
	payload, err := reqBody.MarshalCBOR()
	if err != nil {
		return commerr.Wrap(commerr.BadFormat, err, "token: encode token request")
	}

	resp, err := engine.Do(ctx, coapengine.Request{
		Method:        codes.POST,
		Path:          meshcop.ComToken,
		Payload:       payload,
		ContentFormat: coapengine.ContentFormatCWT,
		Confirmable:   true,
	})
	if err != nil {
		return err
	}
	if resp.Code != codes.Changed {
		return commerr.New(commerr.BadFormat, "token: registrar returned unexpected response code")
	}
	return m.SetToken(resp.Payload)
}

// SetToken validates aSignedToken against the Domain CA public key (unless
// AlwaysAccept) and, on success, atomically replaces the stored token. On
// failure the previously stored token (if any) is left untouched.
func (m *Manager) SetToken(signedToken []byte) error {
	if len(signedToken) == 0 {
		return commerr.New(commerr.InvalidArgs, "token: the signed COM_TOK is empty")
	}

	sign1, err := cose.Unmarshal(signedToken)
	if err != nil {
		return err
	}

	if !m.cfg.AlwaysAccept {
		if err := cose.Verify(sign1, m.cfg.DomainCAPublicKey, nil); err != nil {
			return err
		}
	}

	var claims cwt.Claims
	if err := claims.UnmarshalCBOR(sign1.Payload); err != nil {
		return commerr.Wrap(commerr.BadFormat, err, "token: decode COM_TOK claims")
	}
	if claims.Aud != m.cfg.DomainName {
		return commerr.New(commerr.Security, "token: Domain Name in COM_TOK does not match configured Domain Name")
	}
	if len(claims.Cnf.COSEKey.Kid) == 0 {
		return commerr.New(commerr.BadFormat, "token: COM_TOK confirmation key carries no kid")
	}

	m.mu.Lock()
	m.signedToken = signedToken
	m.claims = claims
	m.kid = claims.Cnf.COSEKey.Kid
	m.seq = 0
	m.mu.Unlock()
	return nil
}

// SignMessage produces the COM_TOK_SIG (a detached COSE_Sign1) over path
// and set, per Thread 1.2 §12.5.5 / PrepareSigningContent.
func (m *Manager) SignMessage(path string, set tlv.Set) ([]byte, error) {
	m.mu.RLock()
	if len(m.signedToken) == 0 {
		m.mu.RUnlock()
		return nil, commerr.New(commerr.InvalidState, "token: has no valid Commissioner Token")
	}
	kid := m.kid
	m.mu.RUnlock()

	content := prepareSigningContent(path, set)
	sign1, err := cose.Sign(m.cfg.PrivateKey, kid, nil, content)
	if err != nil {
		return nil, err
	}
	sig, err := cose.Marshal(sign1)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.seq++
	m.mu.Unlock()
	return sig, nil
}

// VerifySignature checks signature, a COM_TOK_SIG received from a peer,
// over path and set, against the public key in the cnf claim of the
// stored COM_TOK. No other key is tried.
func (m *Manager) VerifySignature(path string, set tlv.Set, signature []byte) error {
	if len(signature) == 0 {
		return commerr.New(commerr.InvalidArgs, "token: the signature is empty")
	}
	sign1, err := cose.Unmarshal(signature)
	if err != nil {
		return err
	}
	content := prepareSigningContent(path, set)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.signedToken) == 0 {
		return commerr.New(commerr.InvalidState, "token: has no valid Commissioner Token")
	}
	peerKey, err := coseKeyToPublicKey(m.claims.Cnf.COSEKey)
	if err != nil {
		return err
	}
	return cose.Verify(sign1, peerKey, content)
}

// ShouldBeSerialized reports whether tlv type t belongs in the signing
// content for a message bound for path, per
// TokenManager::ShouldBeSerialized.
func ShouldBeSerialized(t tlv.Type, path string) bool {
	switch path {
	case meshcop.MgmtPendingSet, meshcop.MgmtSecPendingSet:
		return t != tlv.TypeDelayTimer && tlv.IsDatasetParameter(false, t)
	case meshcop.MgmtActiveSet:
		return tlv.IsDatasetParameter(true, t)
	default:
		return !tlv.IsTokenRelated(t)
	}
}

// prepareSigningContent builds the canonical bytes signed/verified for a
// message to path carrying set: the CoAP Uri-Path option bytes, then the
// type-sorted, filtered TLV set, concatenated - an exact structural port
// of TokenManager::PrepareSigningContent.
func prepareSigningContent(path string, set tlv.Set) []byte {
	content := uriPathOptionBytes(path)
	filtered := set.Filter(func(t tlv.TLV) bool { return ShouldBeSerialized(t.Type, path) })
	encoded, _ := tlv.Encode(filtered.SortedByType())
	return append(content, encoded...)
}

// uriPathOptionBytes encodes path as the raw bytes of one or more
// CoAP Uri-Path options (option number 11), RFC 7252 §3.1 - the
// Go-idiomatic replacement for serializing a throwaway coap::Message and
// stripping its fixed header, since this module never materializes a
// full CoAP message just to extract its Uri-Path option bytes.
func uriPathOptionBytes(path string) []byte {
	const uriPathOptionNumber = 11
	var out []byte
	delta := uriPathOptionNumber
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		out = append(out, encodeOptionHeader(delta, len(seg))...)
		out = append(out, seg...)
		delta = 0
	}
	return out
}

func encodeOptionHeader(delta, length int) []byte {
	d, dExt := splitOptionNibble(delta)
	l, lExt := splitOptionNibble(length)
	buf := []byte{byte(d<<4 | l)}
	buf = append(buf, dExt...)
	buf = append(buf, lExt...)
	return buf
}

func splitOptionNibble(v int) (nibble int, ext []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ext = make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-269))
		return 14, ext
	}
}

func truncatedKeyID(id string) []byte {
	if len(id) > maxKeyIDLength {
		id = id[:maxKeyIDLength]
	}
	return []byte(id)
}

func publicKeyToCOSEKey(pub *ecdsa.PublicKey, kid []byte) (cwt.COSEKey, error) {
	crv, err := crvForCurve(pub.Curve)
	if err != nil {
		return cwt.COSEKey{}, err
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)
	return cwt.COSEKey{Kty: cwt.KtyEC2, Crv: crv, X: x, Y: y, Kid: kid}, nil
}

func coseKeyToPublicKey(k cwt.COSEKey) (*ecdsa.PublicKey, error) {
	curve, err := curveForCrv(k.Crv)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

// COSE EC2 curve identifiers (RFC 8152 §13.1).
const (
	crvP256 = 1
	crvP384 = 2
	crvP521 = 3
)

func crvForCurve(c elliptic.Curve) (int, error) {
	switch c {
	case elliptic.P256():
		return crvP256, nil
	case elliptic.P384():
		return crvP384, nil
	case elliptic.P521():
		return crvP521, nil
	default:
		return 0, commerr.New(commerr.InvalidArgs, "token: unsupported curve")
	}
}

func curveForCrv(crv int) (elliptic.Curve, error) {
	switch crv {
	case crvP256:
		return elliptic.P256(), nil
	case crvP384:
		return elliptic.P384(), nil
	case crvP521:
		return elliptic.P521(), nil
	default:
		return nil, commerr.New(commerr.BadFormat, "token: unsupported COSE_Key curve")
	}
}
