// Package cose implements COSE_Sign1 (RFC 8152 §4.2): a single-signer
// signature envelope with protected/unprotected headers and an optionally
// detached payload. Only the ECDSA algorithms the Thread CCM profile
// requires are supported: ES256 (P-256), ES384 (P-384), ES521 (P-521).
//
// Grounded on the Sig_structure/digestToBeSigned construction of
// veraison/go-cose's COSE_Signature codec, narrowed from the multi-signer
// COSE_Sign envelope to COSE_Sign1 and restricted to the three curves CCM
// uses.
package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/openthread/commissioner-core/commerr"
)

// Algorithm identifies a signing algorithm by its COSE integer value
// (RFC 8152 §8.1, "ECDSA" table).
type Algorithm int

const (
	ES256 Algorithm = -7
	ES384 Algorithm = -35
	ES521 Algorithm = -36
)

// AlgorithmForCurve returns the COSE algorithm mandated for an EC key on
// the given curve, or an error if the curve isn't one CCM supports.
func AlgorithmForCurve(curve elliptic.Curve) (Algorithm, error) {
	switch curve {
	case elliptic.P256():
		return ES256, nil
	case elliptic.P384():
		return ES384, nil
	case elliptic.P521():
		return ES521, nil
	default:
		return 0, commerr.New(commerr.InvalidArgs, "cose: unsupported curve")
	}
}

func curveForAlgorithm(a Algorithm) (elliptic.Curve, error) {
	switch a {
	case ES256:
		return elliptic.P256(), nil
	case ES384:
		return elliptic.P384(), nil
	case ES521:
		return elliptic.P521(), nil
	default:
		return nil, commerr.New(commerr.InvalidArgs, "cose: unsupported algorithm")
	}
}

func digest(a Algorithm, data []byte) ([]byte, error) {
	switch a {
	case ES256:
		h := sha256.Sum256(data)
		return h[:], nil
	case ES384:
		h := sha512.Sum384(data)
		return h[:], nil
	case ES521:
		h := sha512.Sum512(data)
		return h[:], nil
	default:
		return nil, commerr.New(commerr.InvalidArgs, "cose: unsupported algorithm")
	}
}

// protectedHeader is the COSE_Sign1 protected header: only alg, per the
// CCM profile.
type protectedHeader struct {
	Alg Algorithm `cbor:"1,keyasint"`
}

// unprotectedHeader carries only kid; there is no IV field.
type unprotectedHeader struct {
	Kid []byte `cbor:"4,keyasint,omitempty"`
}

// sign1 is the raw 4-element COSE_Sign1 array (RFC 8152 §4.2).
type sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected unprotectedHeader
	Payload     []byte // nil (CBOR null) for a detached payload
	Signature   []byte
}

// Sign1Message is the decoded, application-facing form of a COSE_Sign1
// envelope.
type Sign1Message struct {
	Algorithm Algorithm
	Kid       []byte
	// Payload is nil for a detached signature; the external_aad supplied
	// to Sign/Verify stands in for it in the Sig_structure.
	Payload   []byte
	Signature []byte
}

func canonicalEncMode() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("cose: invalid canonical encoding options: " + err.Error())
	}
	return m
}

func (m Sign1Message) marshalProtected() ([]byte, error) {
	return canonicalEncMode().Marshal(protectedHeader{Alg: m.Algorithm})
}

// sigStructure builds the RFC 8152 §4.4 Sig_structure for COSE_Sign1:
// ["Signature1", protected, external_aad, payload].
func sigStructure(protected []byte, externalAAD, payload []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	if payload == nil {
		payload = []byte{}
	}
	arr := []interface{}{
		"Signature1",
		protected,
		externalAAD,
		payload,
	}
	return canonicalEncMode().Marshal(arr)
}

// Sign produces a Sign1Message over payload (which may be nil/empty to
// request a detached signature, with externalAAD carrying the real
// content to authenticate - this is how Token Manager message signing
// works: the payload is always empty and externalAAD is the canonical
// signing content).
func Sign(priv *ecdsa.PrivateKey, kid []byte, payload, externalAAD []byte) (*Sign1Message, error) {
	alg, err := AlgorithmForCurve(priv.Curve)
	if err != nil {
		return nil, err
	}
	msg := Sign1Message{Algorithm: alg, Kid: kid, Payload: payload}
	protected, err := msg.marshalProtected()
	if err != nil {
		return nil, commerr.Wrap(commerr.Security, err, "cose: marshal protected header")
	}
	toBeSigned, err := sigStructure(protected, externalAAD, payload)
	if err != nil {
		return nil, commerr.Wrap(commerr.Security, err, "cose: build Sig_structure")
	}
	h, err := digest(alg, toBeSigned)
	if err != nil {
		return nil, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, priv, h)
	if err != nil {
		return nil, commerr.Wrap(commerr.Security, err, "cose: ecdsa sign")
	}
	msg.Signature = encodeRS(r, s, curveByteSize(priv.Curve))
	return &msg, nil
}

// Verify checks msg's signature against pub, reconstructing the
// Sig_structure from msg.Payload (or the caller-supplied externalAAD when
// the signature is detached) and protected header.
func Verify(msg *Sign1Message, pub *ecdsa.PublicKey, externalAAD []byte) error {
	alg, err := AlgorithmForCurve(pub.Curve)
	if err != nil {
		return err
	}
	if alg != msg.Algorithm {
		return commerr.New(commerr.Security, "cose: algorithm mismatch between key and message")
	}
	protected, err := msg.marshalProtected()
	if err != nil {
		return commerr.Wrap(commerr.Security, err, "cose: marshal protected header")
	}
	toBeSigned, err := sigStructure(protected, externalAAD, msg.Payload)
	if err != nil {
		return commerr.Wrap(commerr.Security, err, "cose: build Sig_structure")
	}
	h, err := digest(alg, toBeSigned)
	if err != nil {
		return err
	}
	r, s, err := decodeRS(msg.Signature, curveByteSize(pub.Curve))
	if err != nil {
		return err
	}
	if !ecdsa.Verify(pub, h, r, s) {
		return commerr.New(commerr.Security, "cose: signature verification failed")
	}
	return nil
}

// Marshal encodes msg as a tagged COSE_Sign1 CBOR object (tag 18).
func Marshal(msg *Sign1Message) ([]byte, error) {
	protected, err := msg.marshalProtected()
	if err != nil {
		return nil, err
	}
	raw := sign1{
		Protected:   protected,
		Unprotected: unprotectedHeader{Kid: msg.Kid},
		Payload:     msg.Payload,
		Signature:   msg.Signature,
	}
	content, err := canonicalEncMode().Marshal(raw)
	if err != nil {
		return nil, err
	}
	return canonicalEncMode().Marshal(cbor.Tag{Number: 18, Content: cbor.RawMessage(content)})
}

// Unmarshal decodes a tagged or untagged COSE_Sign1 CBOR object.
func Unmarshal(data []byte) (*Sign1Message, error) {
	var tag cbor.RawTag
	body := data
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number == 18 {
		body = tag.Content
	}
	var raw sign1
	if err := cbor.Unmarshal(body, &raw); err != nil {
		return nil, commerr.Wrap(commerr.BadFormat, err, "cose: decode Sign1 array")
	}
	var hdr protectedHeader
	if len(raw.Protected) > 0 {
		if err := cbor.Unmarshal(raw.Protected, &hdr); err != nil {
			return nil, commerr.Wrap(commerr.BadFormat, err, "cose: decode protected header")
		}
		if _, err := curveForAlgorithm(hdr.Alg); err != nil {
			return nil, commerr.Wrap(commerr.BadFormat, err, "cose: unsupported algorithm in protected header")
		}
	}
	return &Sign1Message{
		Algorithm: hdr.Alg,
		Kid:       raw.Unprotected.Kid,
		Payload:   raw.Payload,
		Signature: raw.Signature,
	}, nil
}

func curveByteSize(c elliptic.Curve) int {
	return (c.Params().BitSize + 7) / 8
}

func encodeRS(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func decodeRS(sig []byte, size int) (*big.Int, *big.Int, error) {
	if len(sig) != 2*size {
		return nil, nil, commerr.New(commerr.BadFormat, "cose: malformed signature length")
	}
	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	return r, s, nil
}
