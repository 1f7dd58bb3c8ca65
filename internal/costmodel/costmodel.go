// Package costmodel derives the integer CPU, memory, and migration costs
// the rest of the solver works with, from a VM's observed state.
//
// Grounded on original_source/model.py's VirtualMachine.memory_cost,
// cpu_cost and migration_cost — the running/stopped branch and the
// 1024**2 / 10 scaling constants are carried over unchanged.
package costmodel

import (
	"math"

	"github.com/afics/vmrebalance/internal/snapshot"
)

const miB = 1 << 20

// MemoryCost returns memory_used if the VM is running, else a tenth of
// memory_max — a fixed proxy so stopped VMs still weigh in placement
// decisions instead of being invisible to the balance objective.
func MemoryCost(vm snapshot.VirtualMachine) int64 {
	if vm.State == snapshot.StateRunning {
		return vm.MemoryUsed
	}
	return vm.MemoryMax / 10
}

// CPUCost returns ⌈cpu_used*100⌉ if running, else 0. Stopped VMs have no
// meaningful observed CPU utilization.
func CPUCost(vm snapshot.VirtualMachine) int64 {
	if vm.State == snapshot.StateRunning {
		return int64(math.Ceil(vm.CPUUsed * 100))
	}
	return 0
}

// MigrationCost returns memory_used/2^20 if running, else
// memory_max/2^20/10. Deliberately distinct from MemoryCost so that
// stopped VMs still carry a deterministic tie-breaking weight in the
// migration penalty term.
func MigrationCost(vm snapshot.VirtualMachine) int64 {
	if vm.State == snapshot.StateRunning {
		return vm.MemoryUsed / miB
	}
	return vm.MemoryMax / miB / 10
}

// Totals holds the cluster-wide cost aggregates a Snapshot is annotated
// with at solve time (spec.md §4.2's "precomputed aggregates").
type Totals struct {
	TotalMemoryCost    int64 // sum of MemoryCost(vm)/precision over all VMs
	TotalCPUCost       int64 // sum of CPUCost(vm) over all VMs
	TotalMigrationCost int64 // sum of MigrationCost(vm) over all VMs
}

// ComputeTotals sums the three cost scalars across every VM in the
// snapshot. memoryPrecision is the configured divisor (bytes); a
// non-positive value is treated as 1.
func ComputeTotals(s *snapshot.Snapshot, memoryPrecision int64) Totals {
	if memoryPrecision <= 0 {
		memoryPrecision = 1
	}
	var t Totals
	for _, vm := range s.AllVMs() {
		t.TotalMemoryCost += MemoryCost(vm) / memoryPrecision
		t.TotalCPUCost += CPUCost(vm)
		t.TotalMigrationCost += MigrationCost(vm)
	}
	return t
}
