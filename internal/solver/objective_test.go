package solver

import (
	"testing"

	"github.com/afics/vmrebalance/internal/snapshot"
)

func TestBuildFairShareSplitsProportionallyByCapacity(t *testing.T) {
	// node a has twice node b's CPU and memory, so it should target twice
	// the share of the cluster totals.
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 20 << 20, NumCPU: 8},
		{Name: "b", MemoryTotal: 10 << 20, NumCPU: 4},
	}
	vms := []snapshot.VMInput{
		{ID: 1, Node: "a", State: snapshot.StateRunning, MemoryUsed: 6 << 20, CPUUsed: 1},
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	m, err := buildModel(snap, DefaultWeights(), 1<<20)
	if err != nil {
		t.Fatalf("buildModel: %v", err)
	}
	aIdx, _ := snap.NodeByName("a")
	bIdx, _ := snap.NodeByName("b")
	if m.fairShare.cpuTarget[aIdx] <= m.fairShare.cpuTarget[bIdx] {
		t.Fatalf("node a (2x cpu) should have a higher cpu target than node b: a=%d b=%d",
			m.fairShare.cpuTarget[aIdx], m.fairShare.cpuTarget[bIdx])
	}
}

func TestEvaluateZeroMigrationCostWhenNoVMMoves(t *testing.T) {
	nodes := []snapshot.NodeInput{{Name: "a", MemoryTotal: 10 << 20, NumCPU: 4}, {Name: "b", MemoryTotal: 10 << 20, NumCPU: 4}}
	vms := []snapshot.VMInput{{ID: 1, Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 20, CPUUsed: 0.1}}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	m, err := buildModel(snap, DefaultWeights(), 1<<20)
	if err != nil {
		t.Fatalf("buildModel: %v", err)
	}
	aIdx, _ := snap.NodeByName("a")
	obj := m.evaluate([]int{aIdx})
	if obj.MigrationCost != 0 {
		t.Fatalf("MigrationCost = %d, want 0 when nothing moved", obj.MigrationCost)
	}
}

func TestEvaluateChargesMigrationCostWhenVMMoves(t *testing.T) {
	nodes := []snapshot.NodeInput{{Name: "a", MemoryTotal: 10 << 20, NumCPU: 4}, {Name: "b", MemoryTotal: 10 << 20, NumCPU: 4}}
	vms := []snapshot.VMInput{{ID: 1, Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 20, CPUUsed: 0.1}}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	m, err := buildModel(snap, DefaultWeights(), 1<<20)
	if err != nil {
		t.Fatalf("buildModel: %v", err)
	}
	bIdx, _ := snap.NodeByName("b")
	obj := m.evaluate([]int{bIdx})
	if obj.MigrationCost == 0 {
		t.Fatal("MigrationCost should be nonzero once the VM moves off its current node")
	}
}

func TestEvaluateTotalCombinesWeightedTerms(t *testing.T) {
	nodes := []snapshot.NodeInput{{Name: "a", MemoryTotal: 10 << 20, NumCPU: 4}, {Name: "b", MemoryTotal: 10 << 20, NumCPU: 4}}
	vms := []snapshot.VMInput{{ID: 1, Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 20, CPUUsed: 0.5}}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	m, err := buildModel(snap, DefaultWeights(), 1<<20)
	if err != nil {
		t.Fatalf("buildModel: %v", err)
	}
	aIdx, _ := snap.NodeByName("a")
	obj := m.evaluate([]int{aIdx})
	if obj.Total != obj.CPUTerm+obj.MemTerm+DefaultWeights().Migration*obj.MigrationCost {
		t.Fatalf("Total = %d, does not equal sum of its weighted parts", obj.Total)
	}
}
