package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/openthread/commissioner-core/commerr"
	"github.com/openthread/commissioner-core/cose"
	"github.com/openthread/commissioner-core/cwt"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/openthread/commissioner-core/tlv"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func canonicalCBOR(t *testing.T, v interface{}) []byte {
	t.Helper()
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		t.Fatal(err)
	}
	b, err := mode.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// issueToken builds a COM_TOK the way a registrar would: a COSE_Sign1 over
// the CWT claims, signed by the Domain CA key, confirming commissionerPub.
func issueToken(t *testing.T, domainCA *ecdsa.PrivateKey, domainName string, commissionerPub *ecdsa.PublicKey, kid []byte) []byte {
	t.Helper()
	coseKey, err := publicKeyToCOSEKey(commissionerPub, kid)
	if err != nil {
		t.Fatal(err)
	}
	cnf := cwt.Confirmation{COSEKey: coseKey}
	cnfBytes, err := cnf.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	payload := canonicalCBOR(t, map[int]interface{}{
		cwt.ClaimIss: "registrar",
		cwt.ClaimAud: domainName,
		cwt.ClaimExp: int64(9999999999),
		cwt.ClaimCnf: cbor.RawMessage(cnfBytes),
	})
	sign1, err := cose.Sign(domainCA, []byte("ca-kid"), payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cose.Marshal(sign1)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestManager(t *testing.T, domainName string) (*Manager, *ecdsa.PrivateKey, []byte) {
	t.Helper()
	commissionerKey := mustKey(t)
	domainCA := mustKey(t)
	m, err := New(Config{
		CommissionerID:    "test-commissioner",
		DomainName:        domainName,
		PrivateKey:        commissionerKey,
		PublicKey:         &commissionerKey.PublicKey,
		DomainCAPublicKey: &domainCA.PublicKey,
	})
	if err != nil {
		t.Fatal(err)
	}
	token := issueToken(t, domainCA, domainName, &commissionerKey.PublicKey, []byte("kid-1"))
	return m, domainCA, token
}

func TestSetTokenValidatesDomainAndCNF(t *testing.T) {
	m, _, token := newTestManager(t, "TestDomain")
	if _, err := m.Token(); commerr.Kind(err) != commerr.InvalidState {
		t.Fatalf("expected InvalidState before SetToken, got %v", err)
	}
	if err := m.SetToken(token); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	got, err := m.Token()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(token) {
		t.Fatal("Token() did not return the stored COM_TOK")
	}
}

func TestSetTokenRejectsWrongDomain(t *testing.T) {
	commissionerKey := mustKey(t)
	domainCA := mustKey(t)
	m, err := New(Config{
		CommissionerID:    "id",
		DomainName:        "ExpectedDomain",
		PrivateKey:        commissionerKey,
		PublicKey:         &commissionerKey.PublicKey,
		DomainCAPublicKey: &domainCA.PublicKey,
	})
	if err != nil {
		t.Fatal(err)
	}
	wrongDomainToken := issueToken(t, domainCA, "OtherDomain", &commissionerKey.PublicKey, []byte("kid"))
	if err := m.SetToken(wrongDomainToken); commerr.Kind(err) != commerr.Security {
		t.Fatalf("expected Security error for domain mismatch, got %v", err)
	}
}

// TestSetTokenRollback verifies a failed SetToken leaves a previously
// accepted token in place, mirroring TokenManager::SetToken's
// oldSignedToken restore-on-error path.
func TestSetTokenRollback(t *testing.T) {
	m, domainCA, goodToken := newTestManager(t, "TestDomain")
	if err := m.SetToken(goodToken); err != nil {
		t.Fatal(err)
	}
	badToken := issueToken(t, domainCA, "WrongDomain", &mustKey(t).PublicKey, []byte("kid-2"))
	if err := m.SetToken(badToken); err == nil {
		t.Fatal("expected SetToken to reject the mismatched-domain token")
	}
	got, err := m.Token()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(goodToken) {
		t.Fatal("SetToken clobbered the previously accepted token on failure")
	}
}

func TestSignVerifySignatureRoundTrip(t *testing.T) {
	m, _, token := newTestManager(t, "TestDomain")
	if err := m.SetToken(token); err != nil {
		t.Fatal(err)
	}
	set := tlv.Set{
		{Type: tlv.TypeCommissionerID, Value: []byte("c1")},
		{Type: tlv.TypeState, Value: []byte{1}},
	}
	sig, err := m.SignMessage(meshcop.MgmtCommissionerSet, set)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if err := m.VerifySignature(meshcop.MgmtCommissionerSet, set, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignatureFailsOnTamperedSet(t *testing.T) {
	m, _, token := newTestManager(t, "TestDomain")
	if err := m.SetToken(token); err != nil {
		t.Fatal(err)
	}
	set := tlv.Set{{Type: tlv.TypeCommissionerID, Value: []byte("c1")}}
	sig, err := m.SignMessage(meshcop.MgmtCommissionerSet, set)
	if err != nil {
		t.Fatal(err)
	}
	tampered := tlv.Set{{Type: tlv.TypeCommissionerID, Value: []byte("c2")}}
	if err := m.VerifySignature(meshcop.MgmtCommissionerSet, tampered, sig); commerr.Kind(err) != commerr.Security {
		t.Fatalf("expected Security error, got %v", err)
	}
}

// TestShouldBeSerializedDatasetFiltering pins the three-way filter from
// TokenManager::ShouldBeSerialized: Pending Set excludes DelayTimer but
// keeps it a Pending Dataset parameter otherwise, Active Set is the
// Active Dataset parameter set, and any other path excludes only the
// Commissioner Token/Signature TLVs.
func TestShouldBeSerializedDatasetFiltering(t *testing.T) {
	if ShouldBeSerialized(tlv.TypeDelayTimer, meshcop.MgmtPendingSet) {
		t.Error("Delay Timer must be excluded from Pending Set signing content")
	}
	if !ShouldBeSerialized(tlv.TypePendingTimestamp, meshcop.MgmtPendingSet) {
		t.Error("Pending Timestamp must be included in Pending Set signing content")
	}
	if ShouldBeSerialized(tlv.TypePendingTimestamp, meshcop.MgmtActiveSet) {
		t.Error("Pending Timestamp must not be included in Active Set signing content")
	}
	if !ShouldBeSerialized(tlv.TypeChannel, meshcop.MgmtActiveSet) {
		t.Error("Channel must be included in Active Set signing content")
	}
	if ShouldBeSerialized(tlv.TypeCommissionerToken, meshcop.MgmtCommissionerSet) {
		t.Error("Commissioner Token TLV must never be part of signing content")
	}
	if !ShouldBeSerialized(tlv.TypeCommissionerID, meshcop.MgmtCommissionerSet) {
		t.Error("Commissioner ID must be part of non-dataset signing content")
	}
}

func TestUriPathOptionBytesMultiSegment(t *testing.T) {
	got := uriPathOptionBytes(meshcop.MgmtActiveSet) // "/c/as"
	// Two segments "c" and "as": first option header byte = (11<<4 | 1),
	// value 'c'; second option header byte = (0<<4 | 2), value "as".
	want := []byte{0xB1, 'c', 0x02, 'a', 's'}
	if string(got) != string(want) {
		t.Fatalf("uriPathOptionBytes(%q) = %v, want %v", meshcop.MgmtActiveSet, got, want)
	}
}
