package snapshot

import "testing"

func threeNodeInputs() []NodeInput {
	return []NodeInput{
		{Name: "node-b", MemoryUsed: 1 << 30, MemoryTotal: 16 << 30, NumCPU: 8},
		{Name: "node-a", MemoryUsed: 1 << 30, MemoryTotal: 32 << 30, NumCPU: 16},
		{Name: "node-c", MemoryUsed: 1 << 30, MemoryTotal: 8 << 30, NumCPU: 4},
	}
}

func TestBuildAssignsNodesInNameOrder(t *testing.T) {
	snap, err := Build(threeNodeInputs(), nil, nil, 1<<20)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	nodes := snap.AllNodes()
	if len(nodes) != 3 {
		t.Fatalf("len(nodes) = %d, want 3", len(nodes))
	}
	want := []string{"node-a", "node-b", "node-c"}
	for i, n := range nodes {
		if n.Name != want[i] || n.Index != i {
			t.Fatalf("nodes[%d] = {%s idx=%d}, want {%s idx=%d}", i, n.Name, n.Index, want[i], i)
		}
	}
}

func TestBuildAssignsVMsByNodeThenID(t *testing.T) {
	vms := []VMInput{
		{ID: 20, Node: "node-a"},
		{ID: 10, Node: "node-a"},
		{ID: 5, Node: "node-b"},
	}
	snap, err := Build(threeNodeInputs(), vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	all := snap.AllVMs()
	wantOrder := []int{10, 20, 5}
	for i, vm := range all {
		if vm.ID != wantOrder[i] || vm.Index != i {
			t.Fatalf("vms[%d] = {id=%d idx=%d}, want {id=%d idx=%d}", i, vm.ID, vm.Index, wantOrder[i], i)
		}
	}
}

func TestBuildRejectsDuplicateNodeName(t *testing.T) {
	nodes := []NodeInput{{Name: "dup"}, {Name: "dup"}}
	if _, err := Build(nodes, nil, nil, 1); err == nil {
		t.Fatal("expected error for duplicate node name, got nil")
	}
}

func TestBuildRejectsVMWithUnknownNode(t *testing.T) {
	vms := []VMInput{{ID: 1, Node: "ghost"}}
	if _, err := Build(threeNodeInputs(), vms, nil, 1<<20); err == nil {
		t.Fatal("expected error for VM referencing unknown node, got nil")
	}
}

func TestMaintenanceNodesExcludedFromUsableTotals(t *testing.T) {
	nodes := []NodeInput{
		{Name: "a", MemoryTotal: 10 << 20, NumCPU: 4},
		{Name: "b", MemoryTotal: 20 << 20, NumCPU: 8},
	}
	snap, err := Build(nodes, nil, map[string]bool{"b": true}, 1<<20)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.TotalUsableClusterCPU != 400 {
		t.Fatalf("TotalUsableClusterCPU = %d, want 400 (node b excluded)", snap.TotalUsableClusterCPU)
	}
	if snap.TotalUsableClusterMem != 10 {
		t.Fatalf("TotalUsableClusterMem = %d, want 10", snap.TotalUsableClusterMem)
	}
	idx, ok := snap.NodeByName("b")
	if !ok || !snap.IsMaintenance(idx) {
		t.Fatal("node b should be reported under maintenance")
	}
}

func TestWithPlacementMovesVMsBetweenNodes(t *testing.T) {
	nodes := []NodeInput{{Name: "a"}, {Name: "b"}}
	vms := []VMInput{{ID: 1, Node: "a"}, {ID: 2, Node: "a"}}
	snap, err := Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// assign[0] (vm 1) stays on node a (idx 0), assign[1] (vm 2) moves to node b (idx 1)
	moved := snap.WithPlacement([]int{0, 1})

	aIdx, _ := moved.NodeByName("a")
	bIdx, _ := moved.NodeByName("b")
	if len(moved.AllNodes()[aIdx].VMs) != 1 {
		t.Fatalf("node a should keep 1 VM, has %d", len(moved.AllNodes()[aIdx].VMs))
	}
	if len(moved.AllNodes()[bIdx].VMs) != 1 {
		t.Fatalf("node b should gain 1 VM, has %d", len(moved.AllNodes()[bIdx].VMs))
	}
	vm2, ok := moved.VMByID(2)
	if !ok || vm2.Node != "b" {
		t.Fatalf("vm 2 should now report node b, got %+v", vm2)
	}
	// original snapshot must be untouched
	origVM2, _ := snap.VMByID(2)
	if origVM2.Node != "a" {
		t.Fatalf("original snapshot mutated: vm 2 node = %s, want a", origVM2.Node)
	}
}

func TestNodesExceptAndNodesIn(t *testing.T) {
	snap, err := Build(threeNodeInputs(), nil, nil, 1<<20)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	except := snap.NodesExcept(map[string]bool{"node-a": true})
	if len(except) != 2 {
		t.Fatalf("NodesExcept = %v, want 2 entries", except)
	}
	in := snap.NodesIn(map[string]bool{"node-a": true, "node-c": true})
	if len(in) != 2 {
		t.Fatalf("NodesIn = %v, want 2 entries", in)
	}
}
