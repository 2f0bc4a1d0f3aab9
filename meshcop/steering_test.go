package meshcop

import "testing"

func TestComputeJoinerIDDeterministicAndBitFixup(t *testing.T) {
	id1 := ComputeJoinerID(0x0011223344556677)
	id2 := ComputeJoinerID(0x0011223344556677)
	if len(id1) != JoinerIDLength {
		t.Fatalf("len = %d, want %d", len(id1), JoinerIDLength)
	}
	if string(id1) != string(id2) {
		t.Fatal("ComputeJoinerID is not deterministic")
	}
	if id1[0]&0x01 != 0 {
		t.Fatalf("multicast bit not cleared: %08b", id1[0])
	}
	if id1[0]&0x02 == 0 {
		t.Fatalf("locally-administered bit not set: %08b", id1[0])
	}

	id3 := ComputeJoinerID(0x00112233445566FF)
	if string(id1) == string(id3) {
		t.Fatal("distinct EUI-64s collided")
	}
}

func TestSteeringDataAllOnesAdmitsAnything(t *testing.T) {
	s := SteeringData([]byte{0xFF, 0xFF})
	if !s.Contains(ComputeJoinerID(1)) || !s.Contains(ComputeJoinerID(0xDEADBEEF)) {
		t.Fatal("all-ones filter must admit every joiner id")
	}
}

func TestSteeringDataEmptyAdmitsNothing(t *testing.T) {
	s := NewSteeringData(0)
	if s.Contains(ComputeJoinerID(1)) {
		t.Fatal("all-zero filter must admit nothing")
	}
}

func TestSteeringDataAddThenContains(t *testing.T) {
	s := NewSteeringData(SteeringDataLength)
	admitted := ComputeJoinerID(0x1122334455667788)

	if s.Contains(admitted) {
		t.Fatal("fresh zeroed filter must not contain any id yet")
	}
	AddJoiner(s, admitted)
	if !s.Contains(admitted) {
		t.Fatal("id added to filter must be reported as contained")
	}
}

func TestSteeringDataClampsLength(t *testing.T) {
	s := NewSteeringData(1024)
	if len(s) != SteeringDataLength {
		t.Fatalf("len = %d, want clamp to %d", len(s), SteeringDataLength)
	}
}
