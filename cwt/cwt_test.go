package cwt

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestTokenRequestRoundTrip(t *testing.T) {
	req := TokenRequest{
		GrantType: GrantTypeClientCredential,
		ClientID:  "OT-Commissioner",
		Aud:       "Thread",
		ReqCnf: Confirmation{COSEKey: COSEKey{
			Kty: KtyEC2,
			Crv: 1, // P-256
			X:   []byte{1, 2, 3},
			Y:   []byte{4, 5, 6},
			Kid: []byte("OT-Commissioner"),
		}},
	}
	b, err := req.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}

	var m map[int]cbor.RawMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		t.Fatalf("re-decode as generic map: %v", err)
	}
	for _, key := range []int{ClaimGrantType, ClaimClientID, ClaimAud, ClaimReqCnf} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing claim key %d in encoded request", key)
		}
	}
}

func TestClaimsUnmarshal(t *testing.T) {
	key := COSEKey{Kty: KtyEC2, Crv: 1, X: []byte{9}, Y: []byte{8}, Kid: []byte("k1")}
	keyBytes, err := key.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	cnf, err := canonicalEncMode().Marshal(map[int]cbor.RawMessage{ClaimCoseKey: keyBytes})
	if err != nil {
		t.Fatal(err)
	}
	enc, err := canonicalEncMode().Marshal(map[int]interface{}{
		ClaimIss: "registrar",
		ClaimAud: "Thread",
		ClaimExp: 1234567,
		ClaimCnf: cbor.RawMessage(cnf),
	})
	if err != nil {
		t.Fatal(err)
	}

	var claims Claims
	if err := claims.UnmarshalCBOR(enc); err != nil {
		t.Fatalf("UnmarshalCBOR: %v", err)
	}
	if claims.Aud != "Thread" {
		t.Errorf("aud: got %q, want Thread", claims.Aud)
	}
	if string(claims.Cnf.COSEKey.Kid) != "k1" {
		t.Errorf("cnf.COSEKey.Kid: got %q, want k1", claims.Cnf.COSEKey.Kid)
	}
}
