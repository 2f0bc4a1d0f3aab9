package joiner

import (
	"testing"

	"github.com/openthread/commissioner-core/meshcop"
)

type fixedCredentials struct {
	pskd []byte
	ok   bool
}

func (f fixedCredentials) PSKdForJoiner([]byte) ([]byte, bool) { return f.pskd, f.ok }

func steeringOf(s meshcop.SteeringData) func() meshcop.SteeringData {
	return func() meshcop.SteeringData { return s }
}

func TestAdmitRejectsWhenPoolIsFull(t *testing.T) {
	p := NewPool(Config{
		MaxConnectionNum: 1,
		Credentials:      fixedCredentials{pskd: []byte("secret"), ok: true},
	}, nil)

	// Occupy the single slot without spawning a real handshake goroutine.
	p.sessions[key([]byte("existing"))] = &Session{JoinerID: []byte("existing"), relay: newRelayConn(nil, 0, nil, 0), pool: p}

	p.HandleRelayRx([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 1000, []byte{0, 0, 0, 0, 0, 0, 0, 1}, 0xFC00, []byte{0xAA})

	if len(p.sessions) != 1 {
		t.Fatalf("expected the full pool to reject a new joiner, got %d sessions", len(p.sessions))
	}
}

func TestAdmitRejectsJoinerNotInSteeringData(t *testing.T) {
	p := NewPool(Config{
		MaxConnectionNum: 4,
		Credentials:      fixedCredentials{pskd: []byte("secret"), ok: true},
		SteeringData:     steeringOf(meshcop.NewSteeringData(meshcop.SteeringDataLength)), // all-zero: admits nobody
	}, nil)

	joinerID := meshcop.ComputeJoinerID(0x1122334455667788)
	p.HandleRelayRx(joinerID, 1000, []byte{0, 0, 0, 0, 0, 0, 0, 1}, 0xFC00, []byte{0xAA})

	if len(p.sessions) != 0 {
		t.Fatalf("expected a joiner id absent from steering data to be rejected, got %d sessions", len(p.sessions))
	}
}

func TestAdmitRejectsWithoutCredentials(t *testing.T) {
	p := NewPool(Config{
		MaxConnectionNum: 4,
		// No Credentials provider configured at all.
	}, nil)

	p.HandleRelayRx([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 1000, []byte{0, 0, 0, 0, 0, 0, 0, 1}, 0xFC00, []byte{0xAA})

	if len(p.sessions) != 0 {
		t.Fatalf("expected admission without a configured PSKd to be rejected, got %d sessions", len(p.sessions))
	}
}

func TestCloseAllClearsSessionsWithoutPanicking(t *testing.T) {
	p := NewPool(Config{MaxConnectionNum: 2}, nil)
	p.sessions[key([]byte("a"))] = &Session{JoinerID: []byte("a"), relay: newRelayConn(nil, 0, nil, 0), pool: p}
	p.sessions[key([]byte("b"))] = &Session{JoinerID: []byte("b"), relay: newRelayConn(nil, 0, nil, 0), pool: p}

	p.CloseAll()

	if len(p.sessions) != 0 {
		t.Fatalf("expected CloseAll to clear every session, got %d remaining", len(p.sessions))
	}
}

func TestSessionKEKBeforeAndAfterJoinEnt(t *testing.T) {
	s := &Session{JoinerID: []byte("x")}
	if _, ok := s.KEK(); ok {
		t.Fatal("KEK must be unavailable before the handshake has completed")
	}
	s.mu.Lock()
	s.kek = []byte{1, 2, 3, 4}
	s.mu.Unlock()
	kek, ok := s.KEK()
	if !ok || len(kek) != 4 {
		t.Fatalf("expected the set KEK to be returned, got %v, %v", kek, ok)
	}
}
