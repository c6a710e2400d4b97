package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func newEtcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Register two instances
	inst1 := PeerInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0", Methods: []string{"echo"}}
	inst2 := PeerInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "etcd-test", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "etcd-test", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "etcd-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	// Deregister one
	if err := reg.Deregister(ctx, "etcd-test", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, "etcd-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}

	reg.Deregister(ctx, "etcd-test", inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates := reg.Watch(ctx, "etcd-watch")
	// Give the watcher time to attach before the first write.
	time.Sleep(100 * time.Millisecond)

	if err := reg.Register(ctx, "etcd-watch", PeerInstance{Addr: "127.0.0.1:9001"}, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(ctx, "etcd-watch", "127.0.0.1:9001")

	select {
	case list := <-updates:
		if len(list) != 1 || list[0].Addr != "127.0.0.1:9001" {
			t.Fatalf("unexpected update %+v", list)
		}
	case <-ctx.Done():
		t.Fatal("no watch update")
	}
}
