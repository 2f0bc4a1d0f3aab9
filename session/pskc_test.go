package session

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestGeneratePSKcVector(t *testing.T) {
	extPanID, err := hex.DecodeString("0001020304050607")
	if err != nil {
		t.Fatal(err)
	}
	got, err := GeneratePSKc("12SECRETPASSWORD34", "Test Network", extPanID)
	if err != nil {
		t.Fatalf("GeneratePSKc: %v", err)
	}
	want := "c3f59368445a1b6106be420a706d4cc9"
	if hex.EncodeToString(got) != want {
		t.Fatalf("GeneratePSKc() = %x, want %s", got, want)
	}
}

func TestGeneratePSKcRejectsBadInputs(t *testing.T) {
	if _, err := GeneratePSKc("pass", "name", []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short extended PAN ID")
	}
	if _, err := GeneratePSKc("pass", "", make([]byte, 8)); err == nil {
		t.Error("expected error for empty network name")
	}
	if _, err := GeneratePSKc("pass", "0123456789abcdefg", make([]byte, 8)); err == nil {
		t.Error("expected error for over-long network name")
	}
}

func TestGeneratePSKcRejectsBadPassphraseLength(t *testing.T) {
	extPanID := make([]byte, 8)
	if _, err := GeneratePSKc("12S", "Test Network", extPanID); err == nil {
		t.Error("expected error for a passphrase shorter than 6 bytes")
	}
	if _, err := GeneratePSKc(strings.Repeat("1", 256), "Test Network", extPanID); err == nil {
		t.Error("expected error for a 256-byte passphrase")
	}
	if _, err := GeneratePSKc(strings.Repeat("1", 255), "Test Network", extPanID); err != nil {
		t.Errorf("255 bytes is the inclusive upper bound, got %v", err)
	}
}
