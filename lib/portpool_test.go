package lib

import "testing"

func TestPortPool(t *testing.T) {
	pool, err := NewPortPool(40000, 40003)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		port, err := pool.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		if port < 40000 || port > 40003 || seen[port] {
			t.Errorf("unexpected port %d after %v", port, seen)
		}
		seen[port] = true
	}
	if _, err := pool.Allocate(); err == nil {
		t.Errorf("For an empty pool, expected an error, but got none")
	}
	if pool.Available() != 0 {
		t.Errorf("expected 0 available, but got %d", pool.Available())
	}

	if err := pool.Release(40002); err != nil {
		t.Fatal(err)
	}
	if err := pool.Release(40002); err == nil {
		t.Errorf("For a double release, expected an error, but got none")
	}
	if err := pool.Release(50000); err == nil {
		t.Errorf("For a port out of range, expected an error, but got none")
	}
	if port, err := pool.Allocate(); err != nil || port != 40002 {
		t.Errorf("expected 40002 back, but got %d and %v", port, err)
	}
}

func TestNewPortPoolErrors(t *testing.T) {
	for _, r := range [][2]int{{0, 10}, {10, 5}, {60000, 70000}} {
		if _, err := NewPortPool(r[0], r[1]); err == nil {
			t.Errorf("For %d-%d, expected an error, but got none", r[0], r[1])
		}
	}
}
