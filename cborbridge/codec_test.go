package cborbridge

import (
	"bytes"
	"reflect"
	"testing"
)

func TestJSONToCBORIntermediateMapsKnownKeysToInts(t *testing.T) {
	lookup := map[string]int{"one": 1, "two": 2}
	got := jsonToCBOR(map[string]interface{}{"one": "a", "three": "b"}, lookup)
	want := map[interface{}]interface{}{1: "a", "three": "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestCBORToJSONIntermediateMapsKnownIntsToKeys(t *testing.T) {
	lookup := map[int]string{1: "one"}
	got := cborToJSON(map[interface{}]interface{}{1: "a", "three": "b"}, lookup)
	want := map[string]interface{}{"one": "a", "three": "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := New1(false)
	inputJSON := `{"channel":15,"pan_id":4660,"network_name":"test-net"}`

	cborBytes, err := c.JSONToCBOR(bytes.NewReader([]byte(inputJSON)))
	if err != nil {
		t.Fatalf("JSONToCBOR: %v", err)
	}

	jsonBytes, err := c.CBORToJSON(bytes.NewReader(cborBytes))
	if err != nil {
		t.Fatalf("CBORToJSON: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &got); err != nil {
		t.Fatalf("unmarshal round-tripped json: %v", err)
	}
	if got["network_name"] != "test-net" {
		t.Fatalf("network_name = %v, want test-net", got["network_name"])
	}
	if got["channel"].(float64) != 15 {
		t.Fatalf("channel = %v, want 15", got["channel"])
	}
}

func TestNewRejectsDuplicateIntegerKeys(t *testing.T) {
	_, err := New(map[string]int{"a": 1, "b": 1}, false)
	if err == nil {
		t.Fatal("expected an error for a key table with a duplicate integer")
	}
}
