package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/afics/vmrebalance/internal/migration"
	"github.com/afics/vmrebalance/internal/proxmox"
)

// fakeClient is a minimal ProxmoxClient stub that only implements
// MigrateVM with scripted behavior; Authenticate is a no-op, and every
// other method is unused by the executor and panics if called.
type fakeClient struct {
	mu        sync.Mutex
	failUntil map[int]int // vmid -> number of attempts to fail before succeeding
	attempts  map[int]int
	maxSeen   map[string]int // node -> high-water mark of concurrent in-flight migrations
	inflight  map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		failUntil: make(map[int]int),
		attempts:  make(map[int]int),
		maxSeen:   make(map[string]int),
		inflight:  make(map[string]int),
	}
}

func (f *fakeClient) GetClusterResources() ([]proxmox.ClusterResource, error) { panic("not used") }
func (f *fakeClient) GetNodeStatus(node string) (*proxmox.NodeStatus, error)  { panic("not used") }
func (f *fakeClient) GetNodes() ([]string, error)                            { panic("not used") }
func (f *fakeClient) Ping() error                                            { panic("not used") }
func (f *fakeClient) Authenticate() error                                    { return nil }
func (f *fakeClient) GetVMRRDData(node string, vmid int) ([]proxmox.RRDPoint, error) {
	panic("not used")
}

func (f *fakeClient) MigrateVM(node string, vmid int, target string) error {
	f.mu.Lock()
	f.attempts[vmid]++
	attempt := f.attempts[vmid]
	for _, host := range []string{node, target} {
		f.inflight[host]++
		if f.inflight[host] > f.maxSeen[host] {
			f.maxSeen[host] = f.inflight[host]
		}
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[node]--
		f.inflight[target]--
		f.mu.Unlock()
	}()

	if attempt <= f.failUntil[vmid] {
		return fmt.Errorf("transient failure on attempt %d", attempt)
	}
	return nil
}

var _ proxmox.ProxmoxClient = (*fakeClient)(nil)

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	client := newFakeClient()
	var reports []Progress
	var mu sync.Mutex
	exec := New(client, Options{
		MaxMigrationsPerHost: 2,
		Progress: func(p Progress) {
			mu.Lock()
			reports = append(reports, p)
			mu.Unlock()
		},
	})

	moves := []migration.Move{
		{VMID: 1, FromNode: "a", ToNode: "b", MigrationCost: 5},
		{VMID: 2, FromNode: "b", ToNode: "a", MigrationCost: 1},
	}
	if err := exec.Run(context.Background(), moves); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.attempts[1] != 1 || client.attempts[2] != 1 {
		t.Fatalf("expected one attempt per VM, got %v", client.attempts)
	}

	var finished int
	for _, r := range reports {
		if r.Finished {
			finished++
			if r.Err != nil {
				t.Fatalf("unexpected error in final report: %v", r.Err)
			}
		}
	}
	if finished != 2 {
		t.Fatalf("expected 2 finished reports, got %d", finished)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	client := newFakeClient()
	client.failUntil[1] = 2 // fails twice, succeeds on the third attempt

	exec := New(client, Options{MaxMigrationsPerHost: 1, MaxRetries: 5})
	moves := []migration.Move{{VMID: 1, FromNode: "a", ToNode: "b", MigrationCost: 1}}
	if err := exec.Run(context.Background(), moves); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.attempts[1] != 3 {
		t.Fatalf("attempts = %d, want 3", client.attempts[1])
	}
}

func TestRunReturnsErrorWhenRetriesExhausted(t *testing.T) {
	client := newFakeClient()
	client.failUntil[1] = 100 // never succeeds

	exec := New(client, Options{MaxMigrationsPerHost: 1, MaxRetries: 2})
	moves := []migration.Move{{VMID: 1, FromNode: "a", ToNode: "b", MigrationCost: 1}}
	if err := exec.Run(context.Background(), moves); err == nil {
		t.Fatal("expected Run to return an error once retries are exhausted")
	}
}

func TestRunRespectsMaxMigrationsPerHost(t *testing.T) {
	client := newFakeClient()
	exec := New(client, Options{MaxMigrationsPerHost: 1})

	// Four moves all touching node "a": with a cap of 1, the fake
	// client should never observe more than one in-flight migration on
	// "a" at a time.
	moves := []migration.Move{
		{VMID: 1, FromNode: "a", ToNode: "x", MigrationCost: 1},
		{VMID: 2, FromNode: "a", ToNode: "y", MigrationCost: 2},
		{VMID: 3, FromNode: "a", ToNode: "z", MigrationCost: 3},
		{VMID: 4, FromNode: "a", ToNode: "w", MigrationCost: 4},
	}
	if err := exec.Run(context.Background(), moves); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.maxSeen["a"] > 1 {
		t.Fatalf("max concurrent migrations on node a = %d, want <= 1", client.maxSeen["a"])
	}
}

func TestEnsureDeterministicOrderSortsByCost(t *testing.T) {
	moves := []migration.Move{
		{VMID: 1, MigrationCost: 30},
		{VMID: 2, MigrationCost: 10},
		{VMID: 3, MigrationCost: 20},
	}
	ordered := EnsureDeterministicOrder(moves)
	want := []int{2, 3, 1}
	for i, mv := range ordered {
		if mv.VMID != want[i] {
			t.Fatalf("ordered[%d].VMID = %d, want %d", i, mv.VMID, want[i])
		}
	}
	// original slice must be untouched
	if moves[0].VMID != 1 {
		t.Fatal("EnsureDeterministicOrder mutated its input")
	}
}
