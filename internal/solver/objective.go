// Objective Builder (spec.md §4.4).
package solver

import (
	"fmt"
	"math"

	"github.com/afics/vmrebalance/internal/costmodel"
	"github.com/afics/vmrebalance/internal/snapshot"
)

func errUnknownNode(vm snapshot.VirtualMachine) error {
	return fmt.Errorf("solver: vm %d references unknown node %q", vm.ID, vm.Node)
}

// fairShare holds the per-node constant targets computed once before
// solving, from the cluster's non-maintenance totals.
type fairShare struct {
	cpuTarget []int64 // by node index
	memTarget []int64
}

func buildFairShare(snap *snapshot.Snapshot, totals costmodel.Totals, memoryPrecision int64) fairShare {
	nodes := snap.AllNodes()
	fs := fairShare{
		cpuTarget: make([]int64, len(nodes)),
		memTarget: make([]int64, len(nodes)),
	}
	for _, n := range nodes {
		if snap.IsMaintenance(n.Index) {
			continue // maintenance nodes target 0, consistent with their exclusion
		}
		if snap.TotalUsableClusterCPU > 0 {
			cpuFraction := float64(int64(n.NumCPU)*100) / float64(snap.TotalUsableClusterCPU)
			fs.cpuTarget[n.Index] = int64(math.Ceil(float64(totals.TotalCPUCost) * cpuFraction))
		}
		if snap.TotalUsableClusterMem > 0 {
			memFraction := float64(n.MemoryTotal/memoryPrecision) / float64(snap.TotalUsableClusterMem)
			fs.memTarget[n.Index] = int64(math.Ceil(float64(totals.TotalMemoryCost) * memFraction))
		}
	}
	return fs
}

// NodeDistance is the diagnostic per-node distance-from-fair-share the
// intermediate-solution observer reports (spec.md §4.5).
type NodeDistance struct {
	NodeIndex int
	NodeName  string
	CPUDist   float64 // sqrt(cpu_dist²)
	MemDist   float64 // sqrt(mem_dist²)
}

// Objective is the full scored breakdown of one assignment.
type Objective struct {
	Total          int64
	CPUTerm        int64 // Weights.CPU * sum(cpu_dist²)
	MemTerm        int64 // Weights.Memory * sum(mem_dist²)
	MigrationCost  int64 // unweighted total migration cost
	PerNodeDist    []NodeDistance
}

// model bundles the precomputed, assignment-independent pieces the
// objective (and the local search that drives it) need repeatedly.
type model struct {
	snap            *snapshot.Snapshot
	weights         Weights
	memoryPrecision int64
	fairShare       fairShare

	cpuCost       []int64 // by vm index
	memCost       []int64 // by vm index, already divided by precision
	migrationCost []int64 // by vm index
	currentNode   []int   // by vm index
}

func buildModel(snap *snapshot.Snapshot, weights Weights, memoryPrecision int64) (*model, error) {
	if memoryPrecision <= 0 {
		memoryPrecision = 1
	}
	vms := snap.AllVMs()
	m := &model{
		snap:            snap,
		weights:         weights,
		memoryPrecision: memoryPrecision,
		cpuCost:         make([]int64, len(vms)),
		memCost:         make([]int64, len(vms)),
		migrationCost:   make([]int64, len(vms)),
		currentNode:     make([]int, len(vms)),
	}
	totals := costmodel.ComputeTotals(snap, memoryPrecision)
	m.fairShare = buildFairShare(snap, totals, memoryPrecision)

	for _, vm := range vms {
		m.cpuCost[vm.Index] = costmodel.CPUCost(vm)
		m.memCost[vm.Index] = costmodel.MemoryCost(vm) / memoryPrecision
		m.migrationCost[vm.Index] = costmodel.MigrationCost(vm)
		nodeIdx, ok := snap.NodeByName(vm.Node)
		if !ok {
			return nil, errUnknownNode(vm)
		}
		m.currentNode[vm.Index] = nodeIdx
	}
	return m, nil
}

// evaluate scores an assignment (assign[vmIndex] = nodeIndex). A VM not
// yet placed (nodeIndex -1) is skipped, so evaluate also scores the
// partial assignments the constructive phase builds up incrementally.
func (m *model) evaluate(assign []int) Objective {
	nodes := m.snap.AllNodes()
	cpuLoad := make([]int64, len(nodes))
	memLoad := make([]int64, len(nodes))

	var migrationTotal int64
	for vmIdx, nodeIdx := range assign {
		if nodeIdx < 0 {
			continue
		}
		cpuLoad[nodeIdx] += m.cpuCost[vmIdx]
		memLoad[nodeIdx] += m.memCost[vmIdx]
		if nodeIdx != m.currentNode[vmIdx] {
			migrationTotal += m.migrationCost[vmIdx]
		}
	}

	var cpuSq, memSq int64
	dist := make([]NodeDistance, len(nodes))
	for i, n := range nodes {
		cpuD := cpuLoad[i] - m.fairShare.cpuTarget[i]
		memD := memLoad[i] - m.fairShare.memTarget[i]
		cpuSq += cpuD * cpuD
		memSq += memD * memD
		dist[i] = NodeDistance{
			NodeIndex: i,
			NodeName:  n.Name,
			CPUDist:   math.Sqrt(float64(cpuD * cpuD)),
			MemDist:   math.Sqrt(float64(memD * memD)),
		}
	}

	cpuTerm := m.weights.CPU * cpuSq
	memTerm := m.weights.Memory * memSq
	return Objective{
		Total:         cpuTerm + memTerm + m.weights.Migration*migrationTotal,
		CPUTerm:       cpuTerm,
		MemTerm:       memTerm,
		MigrationCost: migrationTotal,
		PerNodeDist:   dist,
	}
}
