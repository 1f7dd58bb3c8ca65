package proxmox

// Node represents a Proxmox node in the cluster
type Node struct {
	Name     string
	Status   string
	CPUCores int     // Total logical CPUs (cores * threads)
	CPUModel string  // CPU model name, used for hostcpumodel affinity matching
	CPUUsage float64 // Fraction 0-1
	MaxMem   int64   // bytes
	UsedMem  int64   // bytes
	VMs      []VM
	Uptime   int64 // seconds

	// HostState comes from the node config comment (hoststate=N). -1
	// means not set (migrations allowed); 0 is maintenance, 3 is blocked.
	HostState int
}

// IsMigrationBlocked returns true if the host state blocks migrations.
// hoststate=0: maintenance mode - no migrations to/from.
// hoststate=3: blocked state - no migrations to/from.
func (n *Node) IsMigrationBlocked() bool {
	return n.HostState == 0 || n.HostState == 3
}

// HasHostState returns true if hoststate is configured (not -1)
func (n *Node) HasHostState() bool {
	return n.HostState >= 0
}

// VM represents a virtual machine
type VM struct {
	VMID     int
	Name     string
	Node     string
	Status   string
	Type     string  // qemu or lxc
	CPUCores int     // allocated vCPUs
	CPUUsage float64 // instantaneous usage fraction 0-1, used only as an RRD-fetch fallback
	MaxMem   int64   // allocated RAM in bytes
	UsedMem  int64   // actual RAM usage in bytes
	Uptime   int64   // seconds

	// Migration constraints parsed from the VM config comment line
	// (e.g. "#nomigrate=true,hostcpumodel=6150,withvm=a,b,without=c").
	NoMigrate    bool     // administrative pin to the current host
	HostCPUModel string   // required CPU model substring (run-here shorthand)
	WithVM       []string // VM names that must be on the same host
	WithoutVM    []string // VM names that must not be on the same host
}

// Cluster represents the entire Proxmox cluster
type Cluster struct {
	Nodes      []Node
	TotalVMs   int
	TotalVCPUs int // Total vCPUs across all VMs
	RunningVMs int // Count of running VMs
	StoppedVMs int // Count of stopped VMs
	TotalCPUs  int // Total physical CPUs
	TotalRAM   int64
}

// ClusterResource represents a resource from the Proxmox cluster/resources API
type ClusterResource struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Node     string  `json:"node"`
	Status   string  `json:"status"`
	Name     string  `json:"name"`
	VMID     int     `json:"vmid,omitempty"`
	MaxCPU   int     `json:"maxcpu,omitempty"`
	CPU      float64 `json:"cpu,omitempty"`
	MaxMem   int64   `json:"maxmem,omitempty"`
	Mem      int64   `json:"mem,omitempty"`
	Uptime   int64   `json:"uptime,omitempty"`
	Template int     `json:"template,omitempty"`
}

// NodeStatus represents detailed node status
type NodeStatus struct {
	Uptime  int64   `json:"uptime"`
	CPUInfo CPUInfo `json:"cpuinfo"`
}

// CPUInfo contains CPU information
type CPUInfo struct {
	CPUs  int    `json:"cpus"`
	Model string `json:"model"`
}

// RRDPoint is one sample of a Proxmox RRD time series.
type RRDPoint struct {
	Time int64   `json:"time"`
	CPU  float64 `json:"cpu"`
}

// APIResponse is a generic API response wrapper
type APIResponse struct {
	Data interface{} `json:"data"`
}

