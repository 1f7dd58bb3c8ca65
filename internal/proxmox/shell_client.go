package proxmox

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ShellClient represents a Proxmox client using local shell commands (pvesh)
// This client runs directly on a Proxmox host and requires root privileges
type ShellClient struct {
	// No authentication needed - uses pvesh which accesses local API
}

// NewShellClient creates a new Proxmox shell client
// This should only be used when running on a Proxmox host as root
func NewShellClient() *ShellClient {
	return &ShellClient{}
}

// IsAvailable checks if pvesh command is available (i.e., running on Proxmox host)
func IsAvailable() bool {
	cmd := exec.Command("which", "pvesh")
	err := cmd.Run()
	return err == nil
}

// pvesh executes a pvesh command and returns the JSON output
func (c *ShellClient) pvesh(args ...string) ([]byte, error) {
	// pvesh get /api2/json/path --output-format json
	fullArgs := append(args, "--output-format", "json")
	cmd := exec.Command("pvesh", fullArgs...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pvesh command failed: %w\nOutput: %s", err, string(output))
	}

	return output, nil
}

// GetClusterResources retrieves all cluster resources using pvesh
func (c *ShellClient) GetClusterResources() ([]ClusterResource, error) {
	output, err := c.pvesh("get", "/cluster/resources")
	if err != nil {
		return nil, err
	}

	var resources []ClusterResource
	if err := json.Unmarshal(output, &resources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cluster resources: %w", err)
	}

	return resources, nil
}

// GetNodeStatus retrieves detailed status for a specific node
func (c *ShellClient) GetNodeStatus(node string) (*NodeStatus, error) {
	path := fmt.Sprintf("/nodes/%s/status", node)
	output, err := c.pvesh("get", path)
	if err != nil {
		return nil, err
	}

	// Try to unmarshal with flexible structure
	var rawStatus map[string]interface{}
	if err := json.Unmarshal(output, &rawStatus); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node status: %w", err)
	}

	status := &NodeStatus{}

	// Extract cpuinfo if present
	if cpuinfo, ok := rawStatus["cpuinfo"].(map[string]interface{}); ok {
		if model, ok := cpuinfo["model"].(string); ok {
			status.CPUInfo.Model = model
		}
		if cpus, ok := cpuinfo["cpus"].(float64); ok {
			status.CPUInfo.CPUs = int(cpus)
		}
	}

	// Extract uptime
	if uptime, ok := rawStatus["uptime"].(float64); ok {
		status.Uptime = int64(uptime)
	}

	return status, nil
}

// GetNodes retrieves a list of all nodes in the cluster
func (c *ShellClient) GetNodes() ([]string, error) {
	output, err := c.pvesh("get", "/nodes")
	if err != nil {
		return nil, err
	}

	var nodes []struct {
		Node string `json:"node"`
	}
	if err := json.Unmarshal(output, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	nodeNames := make([]string, len(nodes))
	for i, n := range nodes {
		nodeNames[i] = n.Node
	}

	return nodeNames, nil
}

// Ping tests if pvesh is working
func (c *ShellClient) Ping() error {
	_, err := c.pvesh("get", "/version")
	return err
}

// GetVMRRDData retrieves the last-hour, MAX-aggregated RRD series for a
// VM's CPU usage via pvesh.
func (c *ShellClient) GetVMRRDData(node string, vmid int) ([]RRDPoint, error) {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/rrddata", node, vmid)
	output, err := c.pvesh("get", path, "-timeframe", "hour", "-cf", "MAX")
	if err != nil {
		return nil, err
	}
	var points []RRDPoint
	if err := json.Unmarshal(output, &points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RRD data: %w", err)
	}
	return points, nil
}

// MigrateVM issues a live-migration request for vmid to target via pvesh.
func (c *ShellClient) MigrateVM(node string, vmid int, target string) error {
	path := fmt.Sprintf("/nodes/%s/qemu/%d/migrate", node, vmid)
	_, err := c.pvesh("create", path, "-target", target, "-online", "1")
	return err
}

// Authenticate is a no-op for shell client (no authentication needed)
func (c *ShellClient) Authenticate() error {
	return nil
}

// GetHostname returns the current Proxmox host's hostname
func GetHostname() (string, error) {
	cmd := exec.Command("hostname")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// IsProxmoxHost checks if we're running on a Proxmox VE host
func IsProxmoxHost() bool {
	// Check for /etc/pve directory (Proxmox cluster filesystem)
	cmd := exec.Command("test", "-d", "/etc/pve")
	err := cmd.Run()
	if err != nil {
		return false
	}

	// Check if pvesh is available
	return IsAvailable()
}
