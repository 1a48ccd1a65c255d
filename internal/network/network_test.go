package network

import "testing"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := &Manager{
		BridgeName: "sbx0",
		GatewayIP:  "192.168.127.1",
		SubnetCIDR: "192.168.127.0/24",
		nextOct:    2,
		used:       make(map[int]bool),
	}
	return m
}

func TestAllocateIPUnique(t *testing.T) {
	m := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		alloc, err := m.AllocateIP()
		if err != nil {
			t.Fatalf("AllocateIP() error: %v", err)
		}
		if seen[alloc.GuestIP] {
			t.Fatalf("duplicate guest IP allocated: %s", alloc.GuestIP)
		}
		seen[alloc.GuestIP] = true
		if seen[alloc.TapName] {
			t.Fatalf("duplicate tap name allocated: %s", alloc.TapName)
		}
		seen[alloc.TapName] = true
	}
}

func TestAllocateIPExhaustion(t *testing.T) {
	m := newTestManager(t)
	m.nextOct = 254

	if _, err := m.AllocateIP(); err != nil {
		t.Fatalf("AllocateIP() at boundary: %v", err)
	}
	if _, err := m.AllocateIP(); err == nil {
		t.Fatal("expected exhaustion error, got nil")
	}
}

func TestSeedAllocatedAvoidsReuse(t *testing.T) {
	m := newTestManager(t)
	m.SeedAllocated([]string{"192.168.127.2", "192.168.127.3"})

	alloc, err := m.AllocateIP()
	if err != nil {
		t.Fatalf("AllocateIP() error: %v", err)
	}
	if alloc.GuestIP == "192.168.127.2" || alloc.GuestIP == "192.168.127.3" {
		t.Fatalf("allocator reused a seeded IP: %s", alloc.GuestIP)
	}
}

func TestChainNameBounded(t *testing.T) {
	name := chainName("tap-253")
	if len(name) > 29 {
		t.Fatalf("chain name too long: %s (%d chars)", name, len(name))
	}

	long := chainName("tap-this-is-a-very-long-tap-device-name-indeed")
	if len(long) > 29 {
		t.Fatalf("chain name too long: %s (%d chars)", long, len(long))
	}
}
