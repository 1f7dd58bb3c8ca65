package proxmox

// ProxmoxClient defines the interface for interacting with Proxmox
// This interface is implemented by both Client (API-based) and ShellClient (pvesh-based)
type ProxmoxClient interface {
	// GetClusterResources retrieves all cluster resources
	GetClusterResources() ([]ClusterResource, error)

	// GetNodeStatus retrieves detailed status for a specific node
	GetNodeStatus(node string) (*NodeStatus, error)

	// GetNodes retrieves a list of all nodes in the cluster
	GetNodes() ([]string, error)

	// Ping tests the connection to Proxmox
	Ping() error

	// Authenticate performs authentication (no-op for shell client)
	Authenticate() error

	// GetVMRRDData retrieves the last-hour RRD time series for a VM's
	// CPU usage, used to compute the "max over last hour" cpu_used the
	// inventory provider reports.
	GetVMRRDData(node string, vmid int) ([]RRDPoint, error)

	// MigrateVM starts (or, for the shell client, blocks until issuing)
	// a live migration of vmid from its current node to target.
	MigrateVM(node string, vmid int, target string) error
}

// Ensure both client types implement the interface
var _ ProxmoxClient = (*Client)(nil)
var _ ProxmoxClient = (*ShellClient)(nil)
