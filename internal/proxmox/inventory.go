// Inventory provider adapter (spec.md §6): turns a fetched Cluster into
// the snapshot.Build inputs plus the config-meta-derived affinity rules
// supplementing the TOML ones (SPEC_FULL.md §3, "VM metadata affinity
// shorthand").
//
// Grounded on the teacher's resources.go (CollectClusterData /
// fetchVMConfigMeta) for cluster fetch and config-comment parsing; the
// RRD-to-cpu_used reduction and its cache are new, since the teacher
// never needed more than the instantaneous "cpu" field.
package proxmox

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/afics/vmrebalance/internal/config"
	"github.com/afics/vmrebalance/internal/snapshot"
)

// BuildSnapshotInputs converts a fetched Cluster into the node/VM inputs
// snapshot.Build expects, resolving each running VM's cpu_used via the
// RRD max-over-last-hour rule (cached) rather than the instantaneous
// value CollectClusterData populates CPUUsage with.
func BuildSnapshotInputs(client ProxmoxClient, cluster *Cluster, cache *MetricsCache) ([]snapshot.NodeInput, []snapshot.VMInput) {
	nodeInputs := make([]snapshot.NodeInput, 0, len(cluster.Nodes))
	var vmInputs []snapshot.VMInput

	for _, n := range cluster.Nodes {
		nodeInputs = append(nodeInputs, snapshot.NodeInput{
			Name:        n.Name,
			MemoryUsed:  n.UsedMem,
			MemoryTotal: n.MaxMem,
			NumCPU:      n.CPUCores,
		})
	}

	cpuUsed := rrdCPUUsed(client, cluster, cache)

	for _, n := range cluster.Nodes {
		for _, vm := range n.VMs {
			state := snapshot.StateOther
			switch vm.Status {
			case "running":
				state = snapshot.StateRunning
			case "stopped":
				state = snapshot.StateStopped
			}

			used := vm.UsedMem
			cpu := cpuUsed[vm.VMID]
			if state != snapshot.StateRunning {
				used = 0
				cpu = 0
			}

			vmInputs = append(vmInputs, snapshot.VMInput{
				ID:         vm.VMID,
				Name:       vm.Name,
				State:      state,
				Locked:     vm.NoMigrate,
				Node:       vm.Node,
				MemoryUsed: used,
				MemoryMax:  vm.MaxMem,
				CPUUsed:    cpu,
				CPUMax:     float64(vm.CPUCores),
			})
		}
	}

	return nodeInputs, vmInputs
}

// rrdCPUUsed resolves, for every running VM, the max CPU usage observed
// over the last hour, in cores (the RRD usage fraction times the VM's
// allocated cores, so 0.0 to CPUCores), using the metrics
// cache and falling back to the cluster snapshot's instantaneous value
// if the RRD fetch fails. Fetches run through a bounded worker pool,
// mirroring fetchVMConfigMeta's concurrency shape.
func rrdCPUUsed(client ProxmoxClient, cluster *Cluster, cache *MetricsCache) map[int]float64 {
	type job struct {
		vm VM
	}
	var jobs []job
	for _, n := range cluster.Nodes {
		for _, vm := range n.VMs {
			if vm.Status == "running" {
				jobs = append(jobs, job{vm: vm})
			}
		}
	}
	result := make(map[int]float64, len(jobs))
	if len(jobs) == 0 {
		return result
	}

	var mu sync.Mutex
	var completed int32

	numWorkers := maxConcurrentFetches
	if len(jobs) < numWorkers {
		numWorkers = len(jobs)
	}
	jobsChan := make(chan job, len(jobs))
	for _, j := range jobs {
		jobsChan <- j
	}
	close(jobsChan)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobsChan {
				atomic.AddInt32(&completed, 1)
				cpuCores := float64(j.vm.CPUCores)

				if cache != nil {
					if sample := cache.Get(j.vm.VMID, j.vm.Node); sample != nil {
						mu.Lock()
						result[j.vm.VMID] = sample.CPUMax
						mu.Unlock()
						continue
					}
				}

				maxFraction := j.vm.CPUUsage * cpuCores // instantaneous fallback
				if client != nil {
					if points, err := client.GetVMRRDData(j.vm.Node, j.vm.VMID); err == nil {
						var max float64
						for _, p := range points {
							if p.CPU > max {
								max = p.CPU
							}
						}
						if max > 0 {
							maxFraction = max * cpuCores
						}
					} else {
						log.Printf("rrd fetch failed for VM %d on %s: %v", j.vm.VMID, j.vm.Node, err)
					}
				}

				if cache != nil {
					if err := cache.Set(j.vm.VMID, j.vm.Node, maxFraction); err != nil {
						log.Printf("metrics cache write failed for VM %d: %v", j.vm.VMID, err)
					}
				}

				mu.Lock()
				result[j.vm.VMID] = maxFraction
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return result
}

// MaintenanceNodes reports which node names are excluded from placement
// by host state (hoststate=0 maintenance, hoststate=3 blocked), folded
// together with the TOML-configured maintenance set.
func MaintenanceNodes(cluster *Cluster, cfg *config.Config) map[string]bool {
	out := make(map[string]bool, len(cfg.Maintenance.Nodes))
	for _, name := range cfg.Maintenance.Nodes {
		out[name] = true
	}
	for _, n := range cluster.Nodes {
		if n.IsMigrationBlocked() {
			out[n.Name] = true
		}
	}
	return out
}

// SynthesizedAffinityRules builds the additional vm-to-vm and vm-to-host
// affinity rules implied by each VM's config-comment metadata (withvm,
// without, hostcpumodel), on top of whatever the TOML document declares.
func SynthesizedAffinityRules(cluster *Cluster) config.AffinityRules {
	var rules config.AffinityRules
	byName := make(map[string]VM)
	for _, n := range cluster.Nodes {
		for _, vm := range n.VMs {
			byName[vm.Name] = vm
		}
	}

	seenPair := make(map[string]bool)
	addPairRule := func(a, b VM, t config.Vm2VmAffinityType) {
		key := string(t) + "|" + pairKey(a.VMID, b.VMID)
		if seenPair[key] {
			return
		}
		seenPair[key] = true
		rules.VMToVM = append(rules.VMToVM, config.Vm2VmAffinityRule{
			Name:    "config-meta:" + key,
			Enabled: true,
			Type:    t,
			VMs:     []int{a.VMID, b.VMID},
		})
	}

	for _, n := range cluster.Nodes {
		for _, vm := range n.VMs {
			for _, peerName := range vm.WithVM {
				if peer, ok := byName[peerName]; ok {
					addPairRule(vm, peer, config.KeepTogether)
				}
			}
			for _, peerName := range vm.WithoutVM {
				if peer, ok := byName[peerName]; ok {
					addPairRule(vm, peer, config.KeepApart)
				}
			}
			if vm.HostCPUModel != "" {
				var nodes []string
				for _, candidate := range cluster.Nodes {
					if strings.Contains(candidate.CPUModel, vm.HostCPUModel) {
						nodes = append(nodes, candidate.Name)
					}
				}
				rules.VMToHost = append(rules.VMToHost, config.Vm2HostAffinityRule{
					Name:    "config-meta:hostcpumodel:" + vm.Name,
					Enabled: true,
					Type:    config.RunHere,
					Nodes:   nodes,
					VMs:     []int{vm.VMID},
				})
			}
		}
	}

	return rules
}

func pairKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return strconv.Itoa(a) + "," + strconv.Itoa(b)
}
