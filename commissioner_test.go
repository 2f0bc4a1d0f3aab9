package commissioner

import (
	"testing"

	"github.com/openthread/commissioner-core/tlv"
)

func TestBeUint64(t *testing.T) {
	got := beUint64([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})
	want := uint64(0x1122334455667788)
	if got != want {
		t.Fatalf("beUint64 = %#x, want %#x", got, want)
	}
}

func TestBeUint16(t *testing.T) {
	got := beUint16([]byte{0x12, 0x34})
	want := uint16(0x1234)
	if got != want {
		t.Fatalf("beUint16 = %#x, want %#x", got, want)
	}
}

func TestInLoopFalseBeforeConnect(t *testing.T) {
	c := &Commissioner{}
	if c.inLoop() {
		t.Fatal("inLoop must be false before Connect has built a session")
	}
}

// TestNopEventHandlerSatisfiesEventHandler is a compile-time + behavioural
// check that NopEventHandler implements every method of both halves of
// EventHandler without panicking on zero-value arguments.
func TestNopEventHandlerSatisfiesEventHandler(t *testing.T) {
	var h EventHandler = NopEventHandler{}
	h.OnStateChanged(0)
	h.OnKeepAliveResponse(nil)
	h.OnPanIdConflict("", nil)
	h.OnEnergyReport("", nil)
	h.OnDiagGetAnswerMessage("", nil)
	h.OnDatasetChanged()
	h.OnJoinerConnected(nil, nil)
	if accept := h.OnJoinerFinalize(nil, tlv.Set{}); accept {
		t.Fatalf("NopEventHandler.OnJoinerFinalize = %v, want false", accept)
	}
}
