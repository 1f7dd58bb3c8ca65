// Constraint Builder (spec.md §4.3).
//
// The literal spec models constraints as boolean-matrix linear
// inequalities fed to a CP-SAT solver. No such solver exists in this
// stack (see driver.go's doc comment), so constraints here are expressed
// as a feasibility oracle instead: given a candidate assignment, Feasible
// reports whether every hard constraint holds, and CandidateNodes gives
// the driver's constructive and local-search phases the reduced set of
// nodes worth ever trying for a given VM. Both expose the identical
// constraint semantics as the boolean-matrix encoding; only the
// representation differs.
//
// Grounded on original_source/ars_model.py's calculate_balanced_state
// (assignment/capacity/maintenance/locked/keep-apart/keep-together/
// run-here/run-elsewhere constraint construction).
package solver

import (
	"fmt"
	"sort"

	"github.com/afics/vmrebalance/internal/config"
	"github.com/afics/vmrebalance/internal/snapshot"
)

// PairGroup is a set of VM internal indices drawn from one affinity rule.
type PairGroup struct {
	RuleName string
	VMs      []int
}

// HostGroup is a set of VM internal indices restricted to (or away from)
// a set of node internal indices by one vm-to-host affinity rule.
type HostGroup struct {
	RuleName string
	VMs      []int
	Nodes    map[int]bool
}

// Constraints holds the resolved, index-space form of every hard
// constraint spec.md §4.3 defines, built once per solve from a Snapshot
// and a Config.
type Constraints struct {
	snap *snapshot.Snapshot

	memoryPrecision int64

	maintenanceNode map[int]bool
	currentNode     []int // vm index -> current node index
	locked          []bool

	keepApart    []PairGroup
	keepTogether []PairGroup
	runHere      []HostGroup
	runElsewhere []HostGroup
}

// NewConstraints resolves every configured rule against the snapshot's
// internal indices. Rules referencing a VM id or node name absent from
// the current snapshot are skipped for that reference (the inventory may
// simply no longer contain a VM a stale rule names).
func NewConstraints(snap *snapshot.Snapshot, cfg *config.Config, memoryPrecision int64) (*Constraints, error) {
	if memoryPrecision <= 0 {
		memoryPrecision = 1
	}
	vms := snap.AllVMs()
	c := &Constraints{
		snap:            snap,
		memoryPrecision: memoryPrecision,
		maintenanceNode: make(map[int]bool),
		currentNode:     make([]int, len(vms)),
		locked:          make([]bool, len(vms)),
	}
	for _, nodeIdx := range snap.MaintenanceNodes() {
		c.maintenanceNode[nodeIdx] = true
	}
	for _, vm := range vms {
		nodeIdx, ok := snap.NodeByName(vm.Node)
		if !ok {
			return nil, fmt.Errorf("solver: vm %d references unknown node %q", vm.ID, vm.Node)
		}
		c.currentNode[vm.Index] = nodeIdx
		c.locked[vm.Index] = vm.Locked
	}

	for _, r := range cfg.AffinityRules.VMToVM {
		if !r.Enabled {
			continue
		}
		group := c.resolveVMIDs(r.VMs)
		if len(group) < 2 {
			continue
		}
		pg := PairGroup{RuleName: r.Name, VMs: group}
		if r.Type == config.KeepTogether {
			c.keepTogether = append(c.keepTogether, pg)
		} else {
			c.keepApart = append(c.keepApart, pg)
		}
	}
	for _, r := range cfg.AffinityRules.VMToHost {
		if !r.Enabled {
			continue
		}
		group := c.resolveVMIDs(r.VMs)
		if len(group) == 0 {
			continue
		}
		nodes := make(map[int]bool, len(r.Nodes))
		for _, name := range r.Nodes {
			if idx, ok := snap.NodeByName(name); ok {
				nodes[idx] = true
			}
		}
		hg := HostGroup{RuleName: r.Name, VMs: group, Nodes: nodes}
		if r.Type == config.RunElsewhere {
			c.runElsewhere = append(c.runElsewhere, hg)
		} else {
			c.runHere = append(c.runHere, hg)
		}
	}

	return c, nil
}

func (c *Constraints) resolveVMIDs(ids []int) []int {
	var out []int
	for _, id := range ids {
		if vm, ok := c.snap.VMByID(id); ok {
			out = append(out, vm.Index)
		}
	}
	return out
}

// CandidateNodes returns the node indices a VM may legally occupy, before
// considering capacity or keep-apart/keep-together (those depend on the
// rest of the assignment and are checked by Feasible/CapacityOK). An
// empty result means the VM has no legal placement at all — the
// constructive phase reports INFEASIBLE in that case.
func (c *Constraints) CandidateNodes(vmIdx int) []int {
	if c.locked[vmIdx] {
		// Locked pinning and maintenance exclusion are independent hard
		// constraints (spec.md §4.3); a locked VM whose current node is
		// under maintenance has no legal placement at all, not a free
		// pass to stay put.
		if c.maintenanceNode[c.currentNode[vmIdx]] {
			return nil
		}
		return []int{c.currentNode[vmIdx]}
	}

	allowed := make(map[int]bool)
	for _, n := range c.snap.AllNodes() {
		if !c.maintenanceNode[n.Index] {
			allowed[n.Index] = true
		}
	}

	for _, hg := range c.runHere {
		if containsInt(hg.VMs, vmIdx) {
			for n := range allowed {
				if !hg.Nodes[n] {
					delete(allowed, n)
				}
			}
		}
	}
	for _, hg := range c.runElsewhere {
		if containsInt(hg.VMs, vmIdx) {
			for n := range hg.Nodes {
				delete(allowed, n)
			}
		}
	}

	out := make([]int, 0, len(allowed))
	for n := range allowed {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (c *Constraints) nodeCapacity(nodeIdx int) int64 {
	return c.snap.AllNodes()[nodeIdx].MemoryTotal
}

// CapacityOK reports whether the VMs assigned (by assign) to nodeIdx fit
// within that node's memory capacity, per spec.md §4.3: the comparison
// uses raw memory_used, not memory_cost — a hard physical limit, not a
// balance heuristic.
func (c *Constraints) CapacityOK(assign []int, nodeIdx int) bool {
	var used int64
	vms := c.snap.AllVMs()
	for vmIdx, n := range assign {
		if n == nodeIdx {
			used += vms[vmIdx].MemoryUsed
		}
	}
	return used <= c.nodeCapacity(nodeIdx)
}

// Feasible reports whether a full assignment satisfies every hard
// constraint: maintenance exclusion, locked pinning, capacity, and both
// affinity rule families (spec.md §8, invariants 2-7).
func (c *Constraints) Feasible(assign []int) bool {
	nodes := c.snap.AllNodes()

	// Maintenance + locked + host affinity: covered by CandidateNodes,
	// re-checked here since local search must never drift outside it.
	for vmIdx, nodeIdx := range assign {
		cand := c.CandidateNodes(vmIdx)
		if !containsInt(cand, nodeIdx) {
			return false
		}
	}

	for i := range nodes {
		if !c.CapacityOK(assign, i) {
			return false
		}
	}

	for _, pg := range c.keepApart {
		seen := make(map[int]bool)
		for _, vmIdx := range pg.VMs {
			n := assign[vmIdx]
			if seen[n] {
				return false
			}
			seen[n] = true
		}
	}

	for _, pg := range c.keepTogether {
		if len(pg.VMs) == 0 {
			continue
		}
		first := assign[pg.VMs[0]]
		for _, vmIdx := range pg.VMs[1:] {
			if assign[vmIdx] != first {
				return false
			}
		}
	}

	return true
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
