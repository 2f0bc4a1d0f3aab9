package tlv

import (
	"bytes"
	"testing"

	"github.com/openthread/commissioner-core/commerr"
)

func TestRoundTrip(t *testing.T) {
	cases := []Set{
		nil,
		{{Type: TypeChannel, Value: []byte{0x00, 0x0b}}},
		{
			{Type: TypePanID, Value: []byte{0x12, 0x34}},
			{Type: TypeNetworkName, Value: []byte("Test Network")},
			{Type: TypeChannelMask, Value: bytes.Repeat([]byte{0xAB}, 300)},
		},
	}
	for i, c := range cases {
		enc, err := Encode(c)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if len(dec) != len(c) {
			t.Fatalf("case %d: got %d tlvs, want %d", i, len(dec), len(c))
		}
		for j := range c {
			if dec[j].Type != c[j].Type || !bytes.Equal(dec[j].Value, c[j].Value) {
				t.Fatalf("case %d tlv %d: got %+v, want %+v", i, j, dec[j], c[j])
			}
		}
	}
}

func TestDecodeRejectsNonCanonicalLength(t *testing.T) {
	// type=0, 0xFF marker, length=0x0000 (0, well under the short-form max)
	b := []byte{0x00, extendedLengthMarker, 0x00, 0x00}
	_, err := Decode(b)
	if commerr.Kind(err) != commerr.BadFormat {
		t.Fatalf("got %v, want BadFormat", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	for _, b := range [][]byte{
		{0x00},
		{0x00, 0x05, 0x01, 0x02},
		{0x00, extendedLengthMarker, 0x01},
	} {
		if _, err := Decode(b); commerr.Kind(err) != commerr.BadFormat {
			t.Fatalf("Decode(%x): got %v, want BadFormat", b, err)
		}
	}
}

func TestShortFormBoundary(t *testing.T) {
	// A value of exactly 0xFE (254) bytes must encode in short form.
	v := bytes.Repeat([]byte{0x01}, maxShortLength)
	enc, err := Encode(Set{{Type: TypeVendorData, Value: v}})
	if err != nil {
		t.Fatal(err)
	}
	if enc[1] != maxShortLength {
		t.Fatalf("expected short-form length byte 0x%x, got 0x%x", maxShortLength, enc[1])
	}
}

func TestIsDatasetParameter(t *testing.T) {
	if !IsDatasetParameter(true, TypePanID) {
		t.Error("PanID should be an active dataset parameter")
	}
	if IsDatasetParameter(true, TypeDelayTimer) {
		t.Error("DelayTimer must not be an active dataset parameter")
	}
	if !IsDatasetParameter(false, TypeDelayTimer) {
		t.Error("DelayTimer should be a pending dataset parameter")
	}
	if !IsDatasetParameter(false, TypePanID) {
		t.Error("pending dataset parameters must be a superset of active")
	}
}

func TestIsTokenRelated(t *testing.T) {
	for _, typ := range []Type{
		TypeCommissionerToken, TypeCommissionerSignature, TypeCommissionerPenSignature,
		TypeThreadCommissionerToken, TypeThreadCommissionerSignature,
	} {
		if !IsTokenRelated(typ) {
			t.Errorf("type %d should be token-related", typ)
		}
	}
	if IsTokenRelated(TypePanID) {
		t.Error("PanID must not be token-related")
	}
}
