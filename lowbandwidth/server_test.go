package lowbandwidth

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/openthread/commissioner-core/tlv"
)

func TestSetToJSONRendersNumericAndHexFields(t *testing.T) {
	set := tlv.Set{
		{Type: tlv.TypeChannel, Value: []byte{15}},
		{Type: tlv.TypePSKc, Value: []byte{0xde, 0xad, 0xbe, 0xef}},
	}
	got := setToJSON(set)
	if got["channel"] != uint64(15) {
		t.Fatalf("channel = %v, want 15", got["channel"])
	}
	if got["pskc"] != "deadbeef" {
		t.Fatalf("pskc = %v, want deadbeef", got["pskc"])
	}
}

func TestSetToJSONUnknownTypeKeyedByHex(t *testing.T) {
	set := tlv.Set{{Type: tlv.Type(0xfe), Value: []byte{1}}}
	got := setToJSON(set)
	if _, ok := got["fe"]; !ok {
		t.Fatalf("expected unknown TLV type keyed by hex byte, got %#v", got)
	}
}

func TestJSONToSetRoundTripsKnownFields(t *testing.T) {
	body := `{"channel":20,"network_name":"7468726561642d6e6574","unrecognized_field":"x"}`
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	set, err := jsonToSet(m)
	if err != nil {
		t.Fatalf("jsonToSet: %v", err)
	}

	var gotChannel, gotName bool
	for _, e := range set {
		switch e.Type {
		case tlv.TypeChannel:
			gotChannel = true
			if len(e.Value) != 1 || e.Value[0] != 20 {
				t.Fatalf("channel value = %v, want [20]", e.Value)
			}
		case tlv.TypeNetworkName:
			gotName = true
			if string(e.Value) != "thread-net" {
				t.Fatalf("network_name value = %q, want thread-net", e.Value)
			}
		}
	}
	if !gotChannel || !gotName {
		t.Fatalf("expected channel and network_name TLVs in %#v", set)
	}
	if len(set) != 2 {
		t.Fatalf("expected unrecognized_field to be dropped silently, got %d entries", len(set))
	}
}

func TestUintBytesForWidths(t *testing.T) {
	cases := []struct {
		typ  tlv.Type
		v    uint64
		want string
	}{
		{tlv.TypeChannel, 0x11, "11"},
		{tlv.TypePanID, 0x1234, "1234"},
		{tlv.TypeActiveTimestamp, 0x01020304, "01020304"},
	}
	for _, c := range cases {
		got := hex.EncodeToString(uintBytesFor(c.typ, c.v))
		if got != c.want {
			t.Errorf("uintBytesFor(%v, %#x) = %s, want %s", c.typ, c.v, got, c.want)
		}
	}
}
