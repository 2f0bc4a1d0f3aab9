// Package cwt implements the CBOR Web Token (RFC 8392) claim set used for
// COM_TOK: the integer claim keys below are fixed by the Thread 1.2 CCM
// profile, not by CWT itself, and must match the registrar/Domain CA
// wire format exactly.
package cwt

import (
	"github.com/fxamacker/cbor/v2"
)

// Claim keys, as fixed by the Thread 1.2 CCM profile.
const (
	ClaimIss       = 1
	ClaimAud       = 3
	ClaimExp       = 4
	ClaimCnf       = 8
	ClaimClientID  = 24
	ClaimGrantType = 33

	// Token-request keys: req_aud and req_cnf sit at the top level of the
	// request; ClaimCoseKey is the key of the COSE_Key inside a cnf or
	// req_cnf map.
	ClaimReqAud = 3
	ClaimReqCnf = 12
	ClaimCoseKey = 1

	GrantTypeClientCredential = 2
)

// COSE_Key field labels (RFC 8152 §13).
const (
	KeyKty = 1
	KeyCrv = -1
	KeyX   = -2
	KeyY   = -3
	KeyKid = 2

	KtyEC2 = 2
)

// COSEKey is the subset of a COSE_Key this module needs: an EC2 public key
// plus a key identifier.
type COSEKey struct {
	Kty int
	Crv int
	X   []byte
	Y   []byte
	Kid []byte
}

// MarshalCBOR encodes the key as a canonical CBOR map keyed by the integer
// labels above.
func (k COSEKey) MarshalCBOR() ([]byte, error) {
	m := map[int]interface{}{
		KeyKty: k.Kty,
		KeyCrv: k.Crv,
		KeyX:   k.X,
		KeyY:   k.Y,
	}
	if len(k.Kid) > 0 {
		m[KeyKid] = k.Kid
	}
	return canonicalEncMode().Marshal(m)
}

// UnmarshalCBOR decodes a COSE_Key CBOR map.
func (k *COSEKey) UnmarshalCBOR(data []byte) error {
	var m map[int]cbor.RawMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m[KeyKty]; ok {
		if err := cbor.Unmarshal(raw, &k.Kty); err != nil {
			return err
		}
	}
	if raw, ok := m[KeyCrv]; ok {
		if err := cbor.Unmarshal(raw, &k.Crv); err != nil {
			return err
		}
	}
	if raw, ok := m[KeyX]; ok {
		if err := cbor.Unmarshal(raw, &k.X); err != nil {
			return err
		}
	}
	if raw, ok := m[KeyY]; ok {
		if err := cbor.Unmarshal(raw, &k.Y); err != nil {
			return err
		}
	}
	if raw, ok := m[KeyKid]; ok {
		if err := cbor.Unmarshal(raw, &k.Kid); err != nil {
			return err
		}
	}
	return nil
}

// Confirmation is the cnf (or req_cnf) claim: a single embedded COSE_Key.
type Confirmation struct {
	COSEKey COSEKey
}

func (c Confirmation) MarshalCBOR() ([]byte, error) {
	keyBytes, err := c.COSEKey.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	return canonicalEncMode().Marshal(map[int]cbor.RawMessage{ClaimCoseKey: keyBytes})
}

func (c *Confirmation) UnmarshalCBOR(data []byte) error {
	var m map[int]cbor.RawMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}
	raw, ok := m[ClaimCoseKey]
	if !ok {
		return nil
	}
	return c.COSEKey.UnmarshalCBOR(raw)
}

// TokenRequest is the CBOR map POSTed to the COM_TOK URI.
type TokenRequest struct {
	GrantType int
	ClientID  string
	Aud       string
	ReqCnf    Confirmation
}

// MarshalCBOR encodes the request with integer keys {33,24,3,12} exactly
// as specified: grant_type, client_id, aud, req_cnf.
func (r TokenRequest) MarshalCBOR() ([]byte, error) {
	reqCnf, err := r.ReqCnf.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	m := map[int]interface{}{
		ClaimGrantType: r.GrantType,
		ClaimClientID:  r.ClientID,
		ClaimAud:       r.Aud,
		ClaimReqCnf:    cbor.RawMessage(reqCnf),
	}
	return canonicalEncMode().Marshal(m)
}

// Claims is the decoded COM_TOK payload: iss, aud, exp, cnf.
type Claims struct {
	Iss string
	Aud string
	Exp interface{} // numeric (seconds since epoch) or RFC 3339 string, per spec
	Cnf Confirmation
}

// UnmarshalCBOR decodes a CWT claims map.
func (c *Claims) UnmarshalCBOR(data []byte) error {
	var m map[int]cbor.RawMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m[ClaimIss]; ok {
		_ = cbor.Unmarshal(raw, &c.Iss)
	}
	if raw, ok := m[ClaimAud]; ok {
		_ = cbor.Unmarshal(raw, &c.Aud)
	}
	if raw, ok := m[ClaimExp]; ok {
		_ = cbor.Unmarshal(raw, &c.Exp)
	}
	if raw, ok := m[ClaimCnf]; ok {
		if err := c.Cnf.UnmarshalCBOR(raw); err != nil {
			return err
		}
	}
	return nil
}

func canonicalEncMode() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		// CanonicalEncOptions() is a fixed, valid option set; EncMode()
		// only fails on invalid options.
		panic("cwt: invalid canonical encoding options: " + err.Error())
	}
	return m
}
