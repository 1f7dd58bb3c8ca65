// Package snapshot holds the immutable in-memory view of a cluster's nodes
// and VMs at solve time, with the stable internal indices the rest of the
// solver keys its arrays by.
//
// Grounded on original_source/ars_model.py's ARSModel selector properties
// (all_nodes, all_vms, node/vm lookup by id) and model.py's Node/VirtualMachine
// dataclasses, reshaped into dense Go slices the way the teacher's
// proxmox.Cluster/ClusterResource types aggregate a fetched cluster.
package snapshot

import (
	"fmt"
	"sort"
)

// RunState is the three-way VM run state spec.md §3 defines.
type RunState int

const (
	StateRunning RunState = iota
	StateStopped
	StateOther
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "other"
	}
}

// VirtualMachine is a workload unit as observed at snapshot time.
type VirtualMachine struct {
	// Index is the dense, 0-based internal index assigned at Build time.
	Index int

	ID          int
	Name        string
	State       RunState
	Locked      bool
	Node        string // external node identifier VM currently resides on
	MemoryUsed  int64  // bytes
	MemoryMax   int64  // bytes
	CPUUsed     float64
	CPUMax      float64
}

// Node is a hypervisor host as observed at snapshot time.
type Node struct {
	// Index is the dense, 0-based internal index assigned at Build time.
	Index int

	Name        string
	MemoryUsed  int64 // bytes
	MemoryTotal int64 // bytes
	NumCPU      int

	VMs []VirtualMachine
}

// NodeInput and VMInput are the raw shapes an inventory provider produces;
// Build resolves node references and assigns dense indices from them.
type NodeInput struct {
	Name        string
	MemoryUsed  int64
	MemoryTotal int64
	NumCPU      int
}

type VMInput struct {
	ID         int
	Name       string
	State      RunState
	Locked     bool
	Node       string
	MemoryUsed int64
	MemoryMax  int64
	CPUUsed    float64
	CPUMax     float64
}

// Snapshot is a fully materialized, immutable view of nodes and their VMs.
type Snapshot struct {
	nodes []Node
	vms   []VirtualMachine // sorted by (owning node name, vm id); indices match Index

	nodeByName map[string]int // name -> Node.Index
	vmByID     map[int]int    // vm id -> vm slice position

	maintenance map[string]bool

	// Precomputed aggregates (spec.md §4.2).
	TotalUsableClusterCPU int64 // sum of num_cpu*100 over non-maintenance nodes
	TotalUsableClusterMem int64 // sum of memory_total/precision over non-maintenance nodes, floor
}

// Build assembles a Snapshot from raw inventory input, assigning dense
// indices (nodes sorted by name, VMs sorted by (node name, vm id)) and
// precomputing cluster aggregates. maintenanceNodes names nodes excluded
// from capacity and fair-share totals.
func Build(nodeInputs []NodeInput, vmInputs []VMInput, maintenanceNodes map[string]bool, memoryPrecision int64) (*Snapshot, error) {
	if memoryPrecision <= 0 {
		memoryPrecision = 1
	}

	byName := make(map[string]*NodeInput, len(nodeInputs))
	names := make([]string, 0, len(nodeInputs))
	for i := range nodeInputs {
		ni := &nodeInputs[i]
		if _, dup := byName[ni.Name]; dup {
			return nil, fmt.Errorf("snapshot: duplicate node %q", ni.Name)
		}
		byName[ni.Name] = ni
		names = append(names, ni.Name)
	}
	sort.Strings(names)

	vmsByNode := make(map[string][]*VMInput)
	for i := range vmInputs {
		vi := &vmInputs[i]
		if _, ok := byName[vi.Node]; !ok {
			return nil, fmt.Errorf("snapshot: VM %d (%s) references unknown node %q", vi.ID, vi.Name, vi.Node)
		}
		vmsByNode[vi.Node] = append(vmsByNode[vi.Node], vi)
	}
	for _, list := range vmsByNode {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}

	s := &Snapshot{
		nodeByName:  make(map[string]int, len(names)),
		vmByID:      make(map[int]int, len(vmInputs)),
		maintenance: make(map[string]bool, len(maintenanceNodes)),
	}
	for name, on := range maintenanceNodes {
		if on {
			s.maintenance[name] = true
		}
	}

	vmIndex := 0
	for nodeIdx, name := range names {
		ni := byName[name]
		node := Node{
			Index:       nodeIdx,
			Name:        ni.Name,
			MemoryUsed:  ni.MemoryUsed,
			MemoryTotal: ni.MemoryTotal,
			NumCPU:      ni.NumCPU,
		}
		for _, vi := range vmsByNode[name] {
			vm := VirtualMachine{
				Index:      vmIndex,
				ID:         vi.ID,
				Name:       vi.Name,
				State:      vi.State,
				Locked:     vi.Locked,
				Node:       vi.Node,
				MemoryUsed: vi.MemoryUsed,
				MemoryMax:  vi.MemoryMax,
				CPUUsed:    vi.CPUUsed,
				CPUMax:     vi.CPUMax,
			}
			node.VMs = append(node.VMs, vm)
			s.vms = append(s.vms, vm)
			s.vmByID[vm.ID] = vmIndex
			vmIndex++
		}
		s.nodes = append(s.nodes, node)
		s.nodeByName[name] = nodeIdx

		if !s.maintenance[name] {
			s.TotalUsableClusterCPU += int64(ni.NumCPU) * 100
			s.TotalUsableClusterMem += ni.MemoryTotal / memoryPrecision
		}
	}

	return s, nil
}

// AllNodes returns every node in index order.
func (s *Snapshot) AllNodes() []Node { return s.nodes }

// AllVMs returns every VM in index order.
func (s *Snapshot) AllVMs() []VirtualMachine { return s.vms }

// NodeByName returns a node's internal index, or false if unknown.
func (s *Snapshot) NodeByName(name string) (int, bool) {
	idx, ok := s.nodeByName[name]
	return idx, ok
}

// NodesExcept returns the indices of all nodes whose name is not in except.
func (s *Snapshot) NodesExcept(except map[string]bool) []int {
	var out []int
	for _, n := range s.nodes {
		if !except[n.Name] {
			out = append(out, n.Index)
		}
	}
	return out
}

// NodesIn returns the indices of nodes whose name is in names.
func (s *Snapshot) NodesIn(names map[string]bool) []int {
	var out []int
	for _, n := range s.nodes {
		if names[n.Name] {
			out = append(out, n.Index)
		}
	}
	return out
}

// MaintenanceNodes returns the indices of nodes under maintenance.
func (s *Snapshot) MaintenanceNodes() []int {
	var out []int
	for _, n := range s.nodes {
		if s.maintenance[n.Name] {
			out = append(out, n.Index)
		}
	}
	return out
}

// IsMaintenance reports whether the node at the given index is under
// maintenance.
func (s *Snapshot) IsMaintenance(nodeIdx int) bool {
	return s.maintenance[s.nodes[nodeIdx].Name]
}

// VMsIn returns the VMs whose external id is in ids.
func (s *Snapshot) VMsIn(ids map[int]bool) []VirtualMachine {
	var out []VirtualMachine
	for _, vm := range s.vms {
		if ids[vm.ID] {
			out = append(out, vm)
		}
	}
	return out
}

// VMByID looks up a VM by its external id.
func (s *Snapshot) VMByID(id int) (VirtualMachine, bool) {
	idx, ok := s.vmByID[id]
	if !ok {
		return VirtualMachine{}, false
	}
	return s.vms[idx], true
}

// WithPlacement returns a new Snapshot with the same node identities and
// capacities, but with each node's VM list replaced according to assign
// (assign[vmIndex] = nodeIndex). Used by the solver driver to materialize
// the final assignment (spec.md §4.5).
func (s *Snapshot) WithPlacement(assign []int) *Snapshot {
	out := &Snapshot{
		nodeByName:            s.nodeByName,
		vmByID:                s.vmByID,
		maintenance:           s.maintenance,
		TotalUsableClusterCPU: s.TotalUsableClusterCPU,
		TotalUsableClusterMem: s.TotalUsableClusterMem,
	}
	out.nodes = make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		out.nodes[i] = Node{
			Index:       n.Index,
			Name:        n.Name,
			MemoryUsed:  n.MemoryUsed,
			MemoryTotal: n.MemoryTotal,
			NumCPU:      n.NumCPU,
		}
	}
	out.vms = make([]VirtualMachine, len(s.vms))
	for vmIdx, vm := range s.vms {
		nodeIdx := assign[vmIdx]
		vm.Node = out.nodes[nodeIdx].Name
		out.vms[vmIdx] = vm
		out.nodes[nodeIdx].VMs = append(out.nodes[nodeIdx].VMs, vm)
	}
	return out
}
