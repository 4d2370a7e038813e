package addrset

import "testing"

func TestAddReportsPriorPresence(t *testing.T) {
	var s Set
	if ok := s.Add(0x1000); !ok {
		t.Fatal("Add should succeed for a fresh address")
	}
	if ok := s.Add(0x1000); ok {
		t.Fatal("Add should fail for an address already present")
	}
}

func TestSparseAddressesDoNotCollide(t *testing.T) {
	var s Set
	addrs := []uint64{0x1, 0xffff000000000000, 0x0000800000000000, 0x123456789abcdef0}
	for _, a := range addrs {
		if ok := s.Add(a); !ok {
			t.Fatalf("Add(0x%x) unexpectedly reported already present", a)
		}
	}
	for _, a := range addrs {
		if ok := s.Add(a); ok {
			t.Fatalf("Add(0x%x) unexpectedly reported not present on second insert", a)
		}
	}
}
