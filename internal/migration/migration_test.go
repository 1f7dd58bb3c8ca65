package migration

import (
	"testing"

	"github.com/afics/vmrebalance/internal/snapshot"
)

func buildPair(t *testing.T, oldNode, newNode string) (*snapshot.Snapshot, *snapshot.Snapshot) {
	t.Helper()
	nodes := []snapshot.NodeInput{{Name: "a"}, {Name: "b"}}
	vms := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: oldNode, State: snapshot.StateRunning, MemoryUsed: 4 << 20},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 20},
	}
	old, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("build old: %v", err)
	}

	vms2 := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: newNode, State: snapshot.StateRunning, MemoryUsed: 4 << 20},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 20},
	}
	nw, err := snapshot.Build(nodes, vms2, nil, 1<<20)
	if err != nil {
		t.Fatalf("build new: %v", err)
	}
	return old, nw
}

func TestDiffOnlyReportsMovedVMs(t *testing.T) {
	old, nw := buildPair(t, "a", "b")
	moves := Diff(old, nw)
	if len(moves) != 1 {
		t.Fatalf("len(moves) = %d, want 1", len(moves))
	}
	if moves[0].VMID != 1 || moves[0].FromNode != "a" || moves[0].ToNode != "b" {
		t.Fatalf("unexpected move: %+v", moves[0])
	}
}

func TestDiffEmptyWhenNothingMoved(t *testing.T) {
	old, nw := buildPair(t, "a", "a")
	moves := Diff(old, nw)
	if len(moves) != 0 {
		t.Fatalf("len(moves) = %d, want 0", len(moves))
	}
}

func TestTotalCostSumsMoves(t *testing.T) {
	moves := []Move{{MigrationCost: 10}, {MigrationCost: 25}}
	if got := TotalCost(moves); got != 35 {
		t.Fatalf("TotalCost = %d, want 35", got)
	}
}

func TestByCostAscendingSortsInPlace(t *testing.T) {
	moves := []Move{{VMID: 1, MigrationCost: 30}, {VMID: 2, MigrationCost: 10}, {VMID: 3, MigrationCost: 20}}
	ByCostAscending(moves)
	want := []int{2, 3, 1}
	for i, m := range moves {
		if m.VMID != want[i] {
			t.Fatalf("moves[%d].VMID = %d, want %d (order %v)", i, m.VMID, want[i], moves)
		}
	}
}
