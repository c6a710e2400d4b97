package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"mux-rpc/registry"
)

var testInstances = []registry.PeerInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances in order
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != testInstances[i].Addr {
			t.Fatalf("pick %d: expect %s, got %s", i, testInstances[i].Addr, inst.Addr)
		}
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances, "")
	if inst.Addr != testInstances[0].Addr {
		t.Fatalf("expect wrap around to %s, got %s", testInstances[0].Addr, inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	balancers := []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()}
	for _, b := range balancers {
		if _, err := b.Pick([]registry.PeerInstance{}, "k"); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	instances := []registry.PeerInstance{{Addr: "a"}, {Addr: "b"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick(instances, ""); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}

	// Same key should always map to the same instance
	inst1, _ := b.Pick(nil, "user-123")
	inst2, _ := b.Pick(nil, "user-123")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(nil, fmt.Sprintf("key-%d", i))
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashFollowsInstanceSet(t *testing.T) {
	b := NewConsistentHashBalancer()

	before := map[string]string{}
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		inst, err := b.Pick(testInstances, key)
		if err != nil {
			t.Fatal(err)
		}
		before[key] = inst.Addr
	}

	// Dropping :8002 only moves the keys that lived on it.
	remaining := []registry.PeerInstance{testInstances[0], testInstances[2]}
	for key, addr := range before {
		inst, err := b.Pick(remaining, key)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr == ":8002" {
			t.Fatalf("key %s still routed to removed instance", key)
		}
		if addr != ":8002" && inst.Addr != addr {
			t.Fatalf("key %s moved from %s to %s", key, addr, inst.Addr)
		}
	}
}
