package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/openthread/commissioner-core/commerr"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func TestSignVerifyDetachedRoundTrip(t *testing.T) {
	priv := mustKey(t)
	aad := []byte{6, 5, 4, 3, 2, 1}

	msg, err := Sign(priv, []byte("kid-1"), nil, aad)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(msg, &priv.PublicKey, aad); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyFailsOnTamperedAAD(t *testing.T) {
	priv := mustKey(t)
	aad := []byte{6, 5, 4, 3, 2, 1}

	msg, err := Sign(priv, nil, nil, aad)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), aad...)
	tampered[0] ^= 0xFF
	err = Verify(msg, &priv.PublicKey, tampered)
	if commerr.Kind(err) != commerr.Security {
		t.Fatalf("got %v, want Security error", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	priv := mustKey(t)
	aad := []byte("signing content")

	msg, err := Sign(priv, []byte("kid-2"), nil, aad)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(decoded.Kid) != "kid-2" {
		t.Fatalf("kid: got %q, want kid-2", decoded.Kid)
	}
	if err := Verify(decoded, &priv.PublicKey, aad); err != nil {
		t.Fatalf("Verify after round trip: %v", err)
	}
}

func TestAlgorithmForCurve(t *testing.T) {
	cases := []struct {
		curve elliptic.Curve
		want  Algorithm
	}{
		{elliptic.P256(), ES256},
		{elliptic.P384(), ES384},
		{elliptic.P521(), ES521},
	}
	for _, c := range cases {
		got, err := AlgorithmForCurve(c.curve)
		if err != nil || got != c.want {
			t.Errorf("AlgorithmForCurve(%v) = %v, %v; want %v, nil", c.curve.Params().Name, got, err, c.want)
		}
	}
}
