package proxmox

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Maximum concurrent node status / config fetches
const maxConcurrentFetches = 32

// ProgressCallback is called to report progress during data collection
// stage: current stage name (e.g., "resources", "nodes")
// current: current item being processed
// total: total items to process
type ProgressCallback func(stage string, current, total int)

// CollectClusterData gathers complete cluster information
func CollectClusterData(client ProxmoxClient) (*Cluster, error) {
	return CollectClusterDataWithProgress(client, nil)
}

// CollectClusterDataWithProgress gathers complete cluster information with progress reporting
func CollectClusterDataWithProgress(client ProxmoxClient, progress ProgressCallback) (*Cluster, error) {
	if progress != nil {
		progress("Fetching cluster resources", 0, 1)
	}

	resources, err := client.GetClusterResources()
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster resources: %w", err)
	}

	if progress != nil {
		progress("Processing resources", 1, 1)
	}

	cluster := &Cluster{
		Nodes: []Node{},
	}

	nodeMap := make(map[string]*Node)
	vmList := []VM{}

	for _, res := range resources {
		switch res.Type {
		case "node":
			node := Node{
				Name:      res.Node,
				Status:    res.Status,
				CPUCores:  res.MaxCPU,
				CPUUsage:  res.CPU,
				MaxMem:    res.MaxMem,
				UsedMem:   res.Mem,
				Uptime:    res.Uptime,
				HostState: -1,
				VMs:       []VM{},
			}
			nodeMap[res.Node] = &node

		case "qemu", "lxc":
			// Skip templates
			if res.Template == 1 {
				continue
			}

			vm := VM{
				VMID:     res.VMID,
				Name:     res.Name,
				Node:     res.Node,
				Status:   res.Status,
				Type:     res.Type,
				CPUCores: res.MaxCPU,
				CPUUsage: res.CPU,
				MaxMem:   res.MaxMem,
				UsedMem:  res.Mem,
				Uptime:   res.Uptime,
			}

			vmList = append(vmList, vm)
			cluster.TotalVMs++
		}
	}

	// Fetch config metadata for all VMs (nomigrate flag, affinity shorthand)
	fetchVMConfigMeta(vmList, progress)

	// Fetch config metadata for all nodes (hoststate)
	fetchNodeConfigMeta(nodeMap, progress)

	// Retry logic for nodes with 0 CPU usage but have running VMs.
	// This can happen when the API returns stale data.
	retryNodes := findNodesNeedingCPURetry(nodeMap, vmList)
	for retry := 0; retry < 2 && len(retryNodes) > 0; retry++ {
		log.Printf("Retrying CPU data for %d nodes (attempt %d/2): %v", len(retryNodes), retry+1, retryNodes)

		time.Sleep(500 * time.Millisecond)

		retryResources, err := client.GetClusterResources()
		if err != nil {
			log.Printf("Retry failed: %v", err)
			break
		}

		for _, res := range retryResources {
			if res.Type == "node" {
				if node, exists := nodeMap[res.Node]; exists {
					for _, retryNode := range retryNodes {
						if retryNode == res.Node && res.CPU > 0 {
							node.CPUUsage = res.CPU
							log.Printf("Updated CPU for %s: %.2f%%", res.Node, res.CPU*100)
							break
						}
					}
				}
			}
		}

		retryNodes = findNodesNeedingCPURetry(nodeMap, vmList)
	}

	// Fetch detailed node status (CPU model, logical CPU count) in
	// parallel, bounded by a worker pool sized for large clusters.
	fetchNodeDetails(client, nodeMap, progress)

	// Assign VMs to their nodes
	for _, vm := range vmList {
		if node, exists := nodeMap[vm.Node]; exists {
			node.VMs = append(node.VMs, vm)
		}
	}

	for _, node := range nodeMap {
		cluster.Nodes = append(cluster.Nodes, *node)
		cluster.TotalCPUs += node.CPUCores
		cluster.TotalRAM += node.MaxMem

		for _, vm := range node.VMs {
			cluster.TotalVCPUs += vm.CPUCores
			if vm.Status == "running" {
				cluster.RunningVMs++
			} else {
				cluster.StoppedVMs++
			}
		}
	}

	// Sort nodes by name for consistent ordering
	sort.Slice(cluster.Nodes, func(i, j int) bool {
		return cluster.Nodes[i].Name < cluster.Nodes[j].Name
	})

	return cluster, nil
}

// findNodesNeedingCPURetry returns nodes that have 0 CPU usage but have
// running VMs, which indicates the API returned stale/incorrect data.
func findNodesNeedingCPURetry(nodeMap map[string]*Node, vmList []VM) []string {
	runningVMsPerNode := make(map[string]int)
	for _, vm := range vmList {
		if vm.Status == "running" {
			runningVMsPerNode[vm.Node]++
		}
	}

	var retryNodes []string
	for nodeName, node := range nodeMap {
		if node.Status == "online" && node.CPUUsage == 0 && runningVMsPerNode[nodeName] > 0 {
			retryNodes = append(retryNodes, nodeName)
		}
	}
	return retryNodes
}

// nodeStatusResult holds the result of fetching node status
type nodeStatusResult struct {
	nodeName string
	status   *NodeStatus
	err      error
}

// fetchNodeDetails fetches detailed status for all online nodes in
// parallel, using a worker pool with limited concurrency.
func fetchNodeDetails(client ProxmoxClient, nodeMap map[string]*Node, progress ProgressCallback) {
	var onlineNodes []string
	for nodeName, node := range nodeMap {
		if node.Status == "online" {
			onlineNodes = append(onlineNodes, nodeName)
		}
	}

	if len(onlineNodes) == 0 {
		return
	}

	totalNodes := len(onlineNodes)
	var completed int32

	if progress != nil {
		progress("Fetching node details", 0, totalNodes)
	}

	jobs := make(chan string, len(onlineNodes))
	results := make(chan nodeStatusResult, len(onlineNodes))

	numWorkers := maxConcurrentFetches
	if len(onlineNodes) < numWorkers {
		numWorkers = len(onlineNodes)
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for nodeName := range jobs {
				status, err := client.GetNodeStatus(nodeName)
				results <- nodeStatusResult{nodeName: nodeName, status: status, err: err}
			}
		}()
	}

	for _, nodeName := range onlineNodes {
		jobs <- nodeName
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		current := int(atomic.AddInt32(&completed, 1))
		if progress != nil {
			progress("Fetching node details", current, totalNodes)
		}

		if result.err == nil && result.status != nil {
			if node, exists := nodeMap[result.nodeName]; exists {
				node.CPUModel = result.status.CPUInfo.Model
				// CPUCores from resources is total logical CPUs; if the
				// detailed status gives a more reliable count, use it.
				if result.status.CPUInfo.CPUs > 0 {
					node.CPUCores = result.status.CPUInfo.CPUs
				}
			}
		}
	}
}

// vmConfigMetaResult holds the result of parsing VM config metadata
type vmConfigMetaResult struct {
	vmIdx int
	meta  map[string]string
}

// fetchVMConfigMeta fetches config metadata for all VMs in parallel
func fetchVMConfigMeta(vmList []VM, progress ProgressCallback) {
	if len(vmList) == 0 {
		return
	}

	totalVMs := len(vmList)
	var completed int32

	if progress != nil {
		progress("Reading VM config metadata", 0, totalVMs)
	}

	jobs := make(chan int, len(vmList))
	results := make(chan vmConfigMetaResult, len(vmList))

	numWorkers := maxConcurrentFetches
	if len(vmList) < numWorkers {
		numWorkers = len(vmList)
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for vmIdx := range jobs {
				vm := vmList[vmIdx]
				meta := parseConfigComment(vmConfigPath(vm.Node, vm.VMID, vm.Type))
				results <- vmConfigMetaResult{vmIdx: vmIdx, meta: meta}
			}
		}()
	}

	for i := range vmList {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		current := int(atomic.AddInt32(&completed, 1))
		if progress != nil {
			progress("Reading VM config metadata", current, totalVMs)
		}

		vm := &vmList[result.vmIdx]
		if noMigrate, ok := result.meta["nomigrate"]; ok {
			vm.NoMigrate = strings.ToLower(noMigrate) == "true"
		}
		// hostcpumodel=6150 -> VM can only run on hosts with "6150" in CPU model
		if hostCPU, ok := result.meta["hostcpumodel"]; ok {
			vm.HostCPUModel = strings.TrimSpace(hostCPU)
		}
		// withvm=il-fs -> VM must be on same host as VM named "il-fs"
		if withVM, ok := result.meta["withvm"]; ok {
			vm.WithVM = splitCSV(withVM)
		}
		// without=il-kam01 -> VM must NOT be on same host as VM named "il-kam01"
		if withoutVM, ok := result.meta["without"]; ok {
			vm.WithoutVM = splitCSV(withoutVM)
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func vmConfigPath(node string, vmid int, vmType string) string {
	if vmType == "lxc" {
		return fmt.Sprintf("/etc/pve/nodes/%s/lxc/%d.conf", node, vmid)
	}
	return fmt.Sprintf("/etc/pve/nodes/%s/qemu-server/%d.conf", node, vmid)
}

// parseConfigComment reads a Proxmox node/VM config file and parses the
// "#key1=value1,key2=value2" comment-line metadata convention used for
// out-of-band migration hints (nomigrate, hostcpumodel, withvm, without,
// hoststate). Returns an empty map if the file does not exist.
func parseConfigComment(path string) map[string]string {
	meta := make(map[string]string)

	content, err := os.ReadFile(path)
	if err != nil {
		return meta
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		commentContent := strings.TrimPrefix(line, "#")
		if !strings.Contains(commentContent, "=") {
			continue
		}
		// A comma-separated part without "=" continues the previous key's
		// value, so "withvm=a,b" yields withvm -> "a,b".
		lastKey := ""
		for _, pair := range strings.Split(commentContent, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				key := strings.TrimSpace(strings.ToLower(kv[0]))
				value := strings.TrimSpace(kv[1])
				meta[key] = value
				lastKey = key
			} else if extra := strings.TrimSpace(pair); extra != "" && lastKey != "" {
				meta[lastKey] += "," + extra
			}
		}
	}

	return meta
}

// fetchNodeConfigMeta fetches config metadata for all nodes and resolves
// each node's HostState from the "hoststate=N" comment convention.
func fetchNodeConfigMeta(nodeMap map[string]*Node, progress ProgressCallback) {
	if len(nodeMap) == 0 {
		return
	}

	totalNodes := len(nodeMap)
	current := 0

	if progress != nil {
		progress("Reading node config metadata", 0, totalNodes)
	}

	for nodeName, node := range nodeMap {
		current++
		if progress != nil {
			progress("Reading node config metadata", current, totalNodes)
		}

		meta := parseConfigComment(fmt.Sprintf("/etc/pve/nodes/%s/config", nodeName))
		if hostState, ok := meta["hoststate"]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(hostState)); err == nil {
				node.HostState = n
			}
		}
	}
}
