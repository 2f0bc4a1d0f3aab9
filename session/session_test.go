package session

import (
	"testing"
	"time"

	"github.com/openthread/commissioner-core/tlv"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisabled:    "Disabled",
		StateConnected:   "Connected",
		StatePetitioning: "Petitioning",
		StateActive:      "Active",
		State(99):        "Unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestConfigValidateKeepAliveBounds(t *testing.T) {
	base := Config{Id: "commissioner-1", KeepAliveInterval: 35 * time.Second}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tooShort := base
	tooShort.KeepAliveInterval = 29 * time.Second
	if err := tooShort.Validate(); err == nil {
		t.Fatal("expected rejection of a keep-alive interval below 30s")
	}

	tooLong := base
	tooLong.KeepAliveInterval = 46 * time.Second
	if err := tooLong.Validate(); err == nil {
		t.Fatal("expected rejection of a keep-alive interval above 45s")
	}

	atLowerBound := base
	atLowerBound.KeepAliveInterval = minKeepAliveInterval
	if err := atLowerBound.Validate(); err != nil {
		t.Fatalf("30s is the inclusive lower bound, got %v", err)
	}

	atUpperBound := base
	atUpperBound.KeepAliveInterval = maxKeepAliveInterval
	if err := atUpperBound.Validate(); err != nil {
		t.Fatalf("45s is the inclusive upper bound, got %v", err)
	}
}

func TestConfigValidateRejectsOversizedID(t *testing.T) {
	oversized := make([]byte, maxIDBytes+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	cfg := Config{Id: string(oversized), KeepAliveInterval: 35 * time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected rejection of a commissioner id longer than 64 bytes")
	}
}

func TestJitterStaysWithinTenPercent(t *testing.T) {
	base := 30 * time.Second
	for i := 0; i < 100; i++ {
		got := jitter(base)
		lower := base - base/10
		upper := base + base/10
		if got < lower || got > upper {
			t.Fatalf("jitter(%v) = %v, outside [%v, %v]", base, got, lower, upper)
		}
	}
}

func TestRejectedErrorMessage(t *testing.T) {
	err := &RejectedError{ExistingCommissionerID: "other-commissioner"}
	if got := err.Error(); got == "" {
		t.Fatal("RejectedError.Error() must not be empty")
	}
}

func TestNopHandlerSatisfiesHandler(t *testing.T) {
	var h Handler = NopHandler{}
	h.OnStateChanged(StateActive)
	h.OnKeepAliveResponse(nil)
	h.OnPanIdConflict("", nil)
	h.OnEnergyReport("", nil)
	h.OnDiagGetAnswerMessage("", nil)
	h.OnDatasetChanged()
}

func TestGoroutineIDIsStableWithinGoroutine(t *testing.T) {
	id1 := GoroutineID()
	id2 := GoroutineID()
	if id1 != id2 {
		t.Fatalf("GoroutineID() changed within the same goroutine: %d != %d", id1, id2)
	}

	other := make(chan int64, 1)
	go func() { other <- GoroutineID() }()
	if got := <-other; got == id1 {
		t.Fatal("a different goroutine must not report the same id")
	}
}

func TestDstAddrTLVEncodesIPv6(t *testing.T) {
	got, err := dstAddrTLV("fdaa:bb::de6")
	if err != nil {
		t.Fatalf("dstAddrTLV: %v", err)
	}
	if got.Type != tlv.TypeIPv6Address {
		t.Fatalf("Type = %v, want TypeIPv6Address", got.Type)
	}
	if len(got.Value) != 16 {
		t.Fatalf("Value length = %d, want 16", len(got.Value))
	}
}

func TestDstAddrTLVRejectsInvalidAddress(t *testing.T) {
	if _, err := dstAddrTLV("not-an-address"); err == nil {
		t.Fatal("expected an error for a malformed destination address")
	}
}
