// Solver Driver (spec.md §4.5).
//
// No Go binding for a CP-SAT/MIP solver exists anywhere in this stack's
// corpus, nor an established one in the wider ecosystem (OR-Tools ships
// no official Go API) — this is a deliberate, documented standard-library
// exception rather than a missed opportunity to reuse a library. In its
// place, Solve runs a bounded goroutine worker pool doing randomized local
// search, directly modeled on internal/analyzer/balance.go's
// findBestMigrationParallel: a fixed-size pool of workers, each searching
// its own copy of the assignment until the deadline and publishing
// improvements to a mutex-guarded shared best, with a sync/atomic counter
// of improvements found. Semantics (construct a feasible placement, then search for
// the objective-minimizing one within a time budget) follow
// original_source/ars_model.py's ARSModel.calculate_balanced_state and
// ObjectivePrinter.
package solver

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afics/vmrebalance/internal/config"
	"github.com/afics/vmrebalance/internal/snapshot"
)

// State is the result classification spec.md §4.5 defines.
type State int

const (
	Optimal State = iota
	Feasible
	Infeasible
	Unknown
)

func (s State) String() string {
	switch s {
	case Optimal:
		return "OPTIMAL"
	case Feasible:
		return "FEASIBLE"
	case Infeasible:
		return "INFEASIBLE"
	default:
		return "UNKNOWN"
	}
}

// Observer receives intermediate solutions as the search improves on its
// current best. It must only read from Solution; it must not block the
// caller for long or mutate anything — it runs on a solver-owned
// goroutine, mirroring the blocking-call suspension rules of spec.md §5.
type Observer func(Solution)

// Solution is one reported intermediate (or final) result.
type Solution struct {
	WallTime      time.Duration
	Objective     int64
	MigrationCost int64
	PerNodeDist   []NodeDistance
}

// Options configures one Solve call.
type Options struct {
	MaxTimeInSeconds int
	NumSearchWorkers int
	Weights          Weights
	MemoryPrecision  int64
	Observer         Observer
	// RandSeed fixes the search's pseudo-random move selection so that
	// worker count = 1 with a fixed seed proposes the same sequence of
	// moves (spec.md §8, invariant 9). The search stops at a wall-clock
	// deadline, so how many of those moves are tried, and therefore the
	// returned placement, can still differ between runs. Zero uses a
	// time-derived seed.
	RandSeed int64
}

// Result is what Solve returns on success.
type Result struct {
	State    State
	Snapshot *snapshot.Snapshot
	Solution Solution
}

// Solve runs the constructive + local-search engine described in this
// file's package doc comment and returns the best placement found.
func Solve(snap *snapshot.Snapshot, cfg *config.Config, opts Options) (*Result, error) {
	if opts.MaxTimeInSeconds <= 0 {
		opts.MaxTimeInSeconds = 10
	}
	if opts.NumSearchWorkers <= 0 {
		opts.NumSearchWorkers = 1
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.MemoryPrecision <= 0 {
		opts.MemoryPrecision = 1 << 20
	}
	if opts.RandSeed == 0 {
		opts.RandSeed = time.Now().UnixNano()
	}

	cons, err := NewConstraints(snap, cfg, opts.MemoryPrecision)
	if err != nil {
		return nil, err
	}
	m, err := buildModel(snap, opts.Weights, opts.MemoryPrecision)
	if err != nil {
		return nil, err
	}

	candidates := make([][]int, len(snap.AllVMs()))
	for vmIdx := range candidates {
		candidates[vmIdx] = cons.CandidateNodes(vmIdx)
		if len(candidates[vmIdx]) == 0 {
			return &Result{State: Infeasible}, nil
		}
	}

	initial, ok := construct(snap, cons, candidates, m)
	if !ok {
		return &Result{State: Infeasible}, nil
	}

	start := time.Now()
	deadline := start.Add(time.Duration(opts.MaxTimeInSeconds) * time.Second)

	best := initial
	bestObj := m.evaluate(best)
	var bestMu sync.Mutex
	var improved int32

	report := func(obj Objective) {
		if opts.Observer == nil {
			return
		}
		opts.Observer(Solution{
			WallTime:      time.Since(start),
			Objective:     obj.Total,
			MigrationCost: obj.MigrationCost,
			PerNodeDist:   obj.PerNodeDist,
		})
	}
	report(bestObj)

	var wg sync.WaitGroup
	for w := 0; w < opts.NumSearchWorkers; w++ {
		wg.Add(1)
		seed := opts.RandSeed + int64(w)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			local := append([]int(nil), initial...)
			for time.Now().Before(deadline) {
				moved, ok := localMove(snap, cons, candidates, local, rng)
				if !ok {
					continue
				}
				obj := m.evaluate(moved)

				bestMu.Lock()
				if obj.Total < bestObj.Total {
					bestObj = obj
					best = append([]int(nil), moved...)
					atomic.AddInt32(&improved, 1)
					bestMu.Unlock()
					report(obj)
					local = moved
					continue
				}
				currentBest := bestObj.Total
				bestMu.Unlock()

				// Occasional worse-move acceptance, decaying with
				// elapsed time, so a single worker can escape a local
				// optimum instead of freezing on its first one.
				remaining := time.Until(deadline).Seconds()
				budget := (time.Duration(opts.MaxTimeInSeconds) * time.Second).Seconds()
				temperature := 0.0
				if budget > 0 {
					temperature = remaining / budget
				}
				if obj.Total < currentBest+int64(float64(currentBest)*0.02*temperature) && rng.Float64() < 0.1*temperature {
					local = moved
				}
			}
		}(seed)
	}
	wg.Wait()

	result := snap.WithPlacement(best)
	state := Feasible
	if atomic.LoadInt32(&improved) == 0 {
		state = Optimal
	}
	return &Result{State: state, Snapshot: result, Solution: Solution{
		WallTime:      time.Since(start),
		Objective:     bestObj.Total,
		MigrationCost: bestObj.MigrationCost,
		PerNodeDist:   bestObj.PerNodeDist,
	}}, nil
}

// construct builds a feasible initial assignment: locked VMs keep their
// current node; every other VM goes to whichever of its candidate nodes
// yields the lowest projected objective (fair-share distance plus
// migration cost, evaluated on the assignment built so far), in VM index
// order. Keep-together groups are placed first, every member on the node
// chosen for the group's first member; for keep-apart groups, nodes
// already holding a placed peer are ruled out as each member is picked.
func construct(snap *snapshot.Snapshot, cons *Constraints, candidates [][]int, m *model) ([]int, bool) {
	vms := snap.AllVMs()
	assign := make([]int, len(vms))
	for i := range assign {
		assign[i] = -1
	}

	placed := func(vmIdx, nodeIdx int) {
		assign[vmIdx] = nodeIdx
	}

	// keepApartPeers maps a VM index to the other VM indices it must not
	// share a node with, so the greedy picker can rule those nodes out as
	// it goes rather than discovering the violation only once every VM
	// has already been placed.
	keepApartPeers := make(map[int][]int)
	for _, pg := range cons.keepApart {
		for _, a := range pg.VMs {
			for _, b := range pg.VMs {
				if a != b {
					keepApartPeers[a] = append(keepApartPeers[a], b)
				}
			}
		}
	}

	pickNode := func(vmIdx int) (int, bool) {
		best := -1
		var bestObj int64
	candidate:
		for _, nodeIdx := range candidates[vmIdx] {
			for _, peer := range keepApartPeers[vmIdx] {
				if assign[peer] == nodeIdx {
					continue candidate
				}
			}
			trial := append([]int(nil), assign...)
			trial[vmIdx] = nodeIdx
			if !cons.CapacityOK(trial, nodeIdx) {
				continue
			}
			obj := m.evaluate(trial).Total
			if best == -1 || obj < bestObj {
				best = nodeIdx
				bestObj = obj
			}
		}
		return best, best != -1
	}

	for _, pg := range cons.keepTogether {
		if len(pg.VMs) == 0 {
			continue
		}
		first := pg.VMs[0]
		nodeIdx, ok := pickNode(first)
		if !ok {
			return nil, false
		}
		for _, vmIdx := range pg.VMs {
			if !containsInt(candidates[vmIdx], nodeIdx) {
				return nil, false
			}
			placed(vmIdx, nodeIdx)
		}
	}

	for vmIdx := range vms {
		if assign[vmIdx] != -1 {
			continue
		}
		nodeIdx, ok := pickNode(vmIdx)
		if !ok {
			return nil, false
		}
		placed(vmIdx, nodeIdx)
	}

	if !cons.Feasible(assign) {
		return nil, false
	}
	return assign, true
}

// localMove proposes either a single-VM reassignment or a pairwise swap,
// restricted to each VM's candidate set, and returns it only if the
// result is still feasible. The caller decides whether to accept it.
func localMove(snap *snapshot.Snapshot, cons *Constraints, candidates [][]int, assign []int, rng *rand.Rand) ([]int, bool) {
	vms := snap.AllVMs()
	if len(vms) == 0 {
		return nil, false
	}

	if rng.Intn(2) == 0 {
		vmIdx := rng.Intn(len(vms))
		cand := candidates[vmIdx]
		if len(cand) < 2 {
			return nil, false
		}
		nodeIdx := cand[rng.Intn(len(cand))]
		if nodeIdx == assign[vmIdx] {
			return nil, false
		}
		trial := append([]int(nil), assign...)
		trial[vmIdx] = nodeIdx
		if !cons.Feasible(trial) {
			return nil, false
		}
		return trial, true
	}

	a := rng.Intn(len(vms))
	b := rng.Intn(len(vms))
	if a == b || assign[a] == assign[b] {
		return nil, false
	}
	if !containsInt(candidates[a], assign[b]) || !containsInt(candidates[b], assign[a]) {
		return nil, false
	}
	trial := append([]int(nil), assign...)
	trial[a], trial[b] = trial[b], trial[a]
	if !cons.Feasible(trial) {
		return nil, false
	}
	return trial, true
}
