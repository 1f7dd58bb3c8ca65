// Package migration computes the Migration Diff (spec.md §4.6): the set
// of VMs whose host changed between an old and a new snapshot.
//
// Grounded on original_source/main.py's build_migrations, which computes
// exactly this as a set difference over (vmid, node.name) pairs.
package migration

import (
	"sort"

	"github.com/afics/vmrebalance/internal/costmodel"
	"github.com/afics/vmrebalance/internal/snapshot"
)

// Move is one VM whose target node differs from its current node.
type Move struct {
	VMID          int
	VMName        string
	FromNode      string
	ToNode        string
	MigrationCost int64
}

// Diff returns every VM whose host in newSnap differs from its host in
// oldSnap. Order is not semantically significant at this layer — callers
// that need a specific execution order (the external executor sorts by
// migration cost ascending) should sort the result themselves.
func Diff(oldSnap, newSnap *snapshot.Snapshot) []Move {
	oldHost := make(map[int]string)
	for _, vm := range oldSnap.AllVMs() {
		oldHost[vm.ID] = vm.Node
	}

	var moves []Move
	for _, vm := range newSnap.AllVMs() {
		from, ok := oldHost[vm.ID]
		if !ok || from == vm.Node {
			continue
		}
		moves = append(moves, Move{
			VMID:          vm.ID,
			VMName:        vm.Name,
			FromNode:      from,
			ToNode:        vm.Node,
			MigrationCost: costmodel.MigrationCost(vm),
		})
	}
	return moves
}

// TotalCost sums the migration cost of a set of moves; used against the
// skip-threshold exit policy (spec.md §6).
func TotalCost(moves []Move) int64 {
	var total int64
	for _, m := range moves {
		total += m.MigrationCost
	}
	return total
}

// ByCostAscending sorts moves by migration cost ascending, the order the
// external executor is specified to apply (spec.md §4.6).
func ByCostAscending(moves []Move) {
	sort.Slice(moves, func(i, j int) bool { return moves[i].MigrationCost < moves[j].MigrationCost })
}
