package solver

import (
	"testing"

	"github.com/afics/vmrebalance/internal/config"
	"github.com/afics/vmrebalance/internal/snapshot"
)

func solveOpts() Options {
	return Options{MaxTimeInSeconds: 1, NumSearchWorkers: 2, MemoryPrecision: 1 << 20, RandSeed: 1}
}

func countByNode(snap *snapshot.Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, n := range snap.AllNodes() {
		counts[n.Name] = len(n.VMs)
	}
	return counts
}

// S1 — Trivial balance: 2 identical nodes, 4 identical VMs all on node A.
func TestSolveTrivialBalance(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	var vms []snapshot.VMInput
	for i := 1; i <= 4; i++ {
		vms = append(vms, snapshot.VMInput{
			ID: i, Name: "v", Node: "a", State: snapshot.StateRunning,
			MemoryUsed: 2 << 30, CPUUsed: 0.1,
		})
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	result, err := Solve(snap, &config.Config{}, solveOpts())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.State != Optimal && result.State != Feasible {
		t.Fatalf("state = %v, want OPTIMAL or FEASIBLE", result.State)
	}
	counts := countByNode(result.Snapshot)
	if counts["a"] != 2 || counts["b"] != 2 {
		t.Fatalf("node VM counts = %v, want 2/2", counts)
	}
	if result.Solution.MigrationCost <= 0 {
		t.Fatal("migration cost should be positive once VMs move off node a")
	}
}

// S2 — Maintenance drain: 3 nodes, 6 VMs evenly placed, node b under
// maintenance. Expect 0 VMs left on b.
func TestSolveMaintenanceDrain(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "c", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	var vms []snapshot.VMInput
	id := 1
	for _, n := range []string{"a", "b", "c"} {
		for i := 0; i < 2; i++ {
			vms = append(vms, snapshot.VMInput{
				ID: id, Name: "v", Node: n, State: snapshot.StateRunning,
				MemoryUsed: 2 << 30, CPUUsed: 0.1,
			})
			id++
		}
	}
	snap, err := snapshot.Build(nodes, vms, map[string]bool{"b": true}, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	result, err := Solve(snap, &config.Config{}, solveOpts())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.State == Infeasible || result.State == Unknown {
		t.Fatalf("state = %v, want a feasible result", result.State)
	}
	counts := countByNode(result.Snapshot)
	if counts["b"] != 0 {
		t.Fatalf("node b under maintenance should have 0 VMs, has %d", counts["b"])
	}
	if counts["a"]+counts["c"] != 6 {
		t.Fatalf("a+c should hold all 6 VMs, got a=%d c=%d", counts["a"], counts["c"])
	}
}

// S3 — Locked VM: like S1 but v2 is locked on node a and must stay there.
func TestSolveLockedVMStaysPut(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	vms := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 30, CPUUsed: 0.1},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 30, CPUUsed: 0.1, Locked: true},
		{ID: 3, Name: "v3", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 30, CPUUsed: 0.1},
		{ID: 4, Name: "v4", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 30, CPUUsed: 0.1},
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	result, err := Solve(snap, &config.Config{}, solveOpts())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.State == Infeasible || result.State == Unknown {
		t.Fatalf("state = %v, want a feasible result", result.State)
	}
	v2, ok := result.Snapshot.VMByID(2)
	if !ok || v2.Node != "a" {
		t.Fatalf("locked v2 should remain on node a, got %+v", v2)
	}
}

// S4 — KEEP_APART over three VMs across three nodes: feasible, one per node.
func TestSolveKeepApartThreeWay(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "c", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	vms := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 30, CPUUsed: 0.1},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 30, CPUUsed: 0.1},
		{ID: 3, Name: "v3", Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 30, CPUUsed: 0.1},
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	cfg := &config.Config{AffinityRules: config.AffinityRules{
		VMToVM: []config.Vm2VmAffinityRule{
			{Name: "spread", Enabled: true, Type: config.KeepApart, VMs: []int{1, 2, 3}},
		},
	}}
	result, err := Solve(snap, cfg, solveOpts())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.State == Infeasible || result.State == Unknown {
		t.Fatalf("state = %v, want a feasible result (distinct node per VM exists)", result.State)
	}
	seen := make(map[string]bool)
	for _, id := range []int{1, 2, 3} {
		vm, _ := result.Snapshot.VMByID(id)
		if seen[vm.Node] {
			t.Fatalf("two keep-apart VMs landed on the same node %q", vm.Node)
		}
		seen[vm.Node] = true
	}
}

// S5 — Infeasible: 2 nodes, 3 VMs with KEEP_APART over all three.
func TestSolveInfeasibleWhenKeepApartExceedsNodeCount(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	vms := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 30, CPUUsed: 0.1},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 30, CPUUsed: 0.1},
		{ID: 3, Name: "v3", Node: "a", State: snapshot.StateRunning, MemoryUsed: 1 << 30, CPUUsed: 0.1},
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	cfg := &config.Config{AffinityRules: config.AffinityRules{
		VMToVM: []config.Vm2VmAffinityRule{
			{Name: "spread", Enabled: true, Type: config.KeepApart, VMs: []int{1, 2, 3}},
		},
	}}
	result, err := Solve(snap, cfg, solveOpts())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.State != Infeasible {
		t.Fatalf("state = %v, want INFEASIBLE (3 mutually exclusive VMs, 2 nodes)", result.State)
	}
}

func TestSolveReportsIntermediateSolutionsToObserver(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	vms := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 30, CPUUsed: 0.1},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, MemoryUsed: 2 << 30, CPUUsed: 0.1},
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	var reports int
	opts := solveOpts()
	opts.Observer = func(Solution) { reports++ }
	if _, err := Solve(snap, &config.Config{}, opts); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if reports == 0 {
		t.Fatal("observer should receive at least the initial solution report")
	}
}

// construct's greedy node choice must weigh the full objective (fair-share
// distance + migration cost), not just raw memory: two CPU-heavy VMs with
// no memory footprint at all must still split across nodes to balance CPU.
func TestConstructBalancesCPUEvenWhenMemoryIsIdentical(t *testing.T) {
	nodes := []snapshot.NodeInput{
		{Name: "a", MemoryTotal: 100 << 30, NumCPU: 8},
		{Name: "b", MemoryTotal: 100 << 30, NumCPU: 8},
	}
	vms := []snapshot.VMInput{
		{ID: 1, Name: "v1", Node: "a", State: snapshot.StateRunning, CPUUsed: 4.0},
		{ID: 2, Name: "v2", Node: "a", State: snapshot.StateRunning, CPUUsed: 4.0},
	}
	snap, err := snapshot.Build(nodes, vms, nil, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	cons, err := NewConstraints(snap, &config.Config{}, 1<<20)
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}
	m, err := buildModel(snap, DefaultWeights(), 1<<20)
	if err != nil {
		t.Fatalf("buildModel: %v", err)
	}
	candidates := make([][]int, len(snap.AllVMs()))
	for i := range candidates {
		candidates[i] = cons.CandidateNodes(i)
	}
	assign, ok := construct(snap, cons, candidates, m)
	if !ok {
		t.Fatal("construct should find a feasible assignment")
	}
	if assign[0] == assign[1] {
		t.Fatalf("CPU-heavy, memory-identical VMs should split across nodes to balance CPU, both landed on node index %d", assign[0])
	}
}

func TestSolveInfeasibleWhenNoCandidateExists(t *testing.T) {
	nodes := []snapshot.NodeInput{{Name: "a", MemoryTotal: 1, NumCPU: 1}}
	vms := []snapshot.VMInput{{ID: 1, Name: "v1", Node: "a", State: snapshot.StateRunning, MemoryUsed: 0}}
	snap, err := snapshot.Build(nodes, vms, map[string]bool{"a": true}, 1<<20)
	if err != nil {
		t.Fatalf("snapshot.Build: %v", err)
	}
	result, err := Solve(snap, &config.Config{}, solveOpts())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.State != Infeasible {
		t.Fatalf("state = %v, want INFEASIBLE (only node is under maintenance)", result.State)
	}
}
