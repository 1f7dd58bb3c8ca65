// Package executor is a concrete Migration Executor (spec.md §6): it
// consumes a migration.Move list and carries it out against a Proxmox
// cluster, throttling concurrent migrations per node and retrying
// transient failures. The core solver never calls this package — it is
// a runnable reference implementation of the interface spec.md treats as
// an external collaborator.
//
// Concurrency shape grounded on internal/analyzer/balance.go's bounded
// worker pool; retry grounded on the teacher's exponential-backoff use
// in the assisted-migration-agent example (console.go), here via the
// higher-level backoff.Retry helper instead of hand-rolled NextBackOff
// bookkeeping, since each migration is a single retryable operation
// rather than a recurring ticker loop.
package executor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/afics/vmrebalance/internal/migration"
	"github.com/afics/vmrebalance/internal/proxmox"
)

// Progress is reported once per migration attempt outcome.
type Progress struct {
	Move     migration.Move
	Attempt  int
	Err      error // nil on success
	Finished bool  // true once no more retries will be made for this move
}

// ProgressFunc receives Progress reports; it must not block.
type ProgressFunc func(Progress)

// Options configures one Executor run.
type Options struct {
	// MaxMigrationsPerHost bounds concurrent migrations touching any
	// single node, as either source or destination (spec.md §6).
	MaxMigrationsPerHost int
	MaxRetries           int
	Progress             ProgressFunc
}

// Executor throttles and retries a MigrationPlan's moves against a
// ProxmoxClient.
type Executor struct {
	client proxmox.ProxmoxClient
	opts   Options
}

// New builds an Executor. MaxMigrationsPerHost and MaxRetries default to
// 3 and 3 respectively if unset.
func New(client proxmox.ProxmoxClient, opts Options) *Executor {
	if opts.MaxMigrationsPerHost <= 0 {
		opts.MaxMigrationsPerHost = 3
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Executor{client: client, opts: opts}
}

// Run executes every move in moves, respecting the per-host concurrency
// cap. It blocks until every move has either succeeded or exhausted its
// retries.
func (e *Executor) Run(ctx context.Context, moves []migration.Move) error {
	ordered := EnsureDeterministicOrder(moves)

	hostSem := make(map[string]chan struct{})
	var semMu sync.Mutex
	acquire := func(host string) chan struct{} {
		semMu.Lock()
		defer semMu.Unlock()
		sem, ok := hostSem[host]
		if !ok {
			sem = make(chan struct{}, e.opts.MaxMigrationsPerHost)
			hostSem[host] = sem
		}
		return sem
	}

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for _, mv := range ordered {
		wg.Add(1)
		go func(mv migration.Move) {
			defer wg.Done()

			srcSem := acquire(mv.FromNode)
			dstSem := acquire(mv.ToNode)
			srcSem <- struct{}{}
			defer func() { <-srcSem }()
			if mv.ToNode != mv.FromNode {
				dstSem <- struct{}{}
				defer func() { <-dstSem }()
			}

			err := e.migrateOne(ctx, mv)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(mv)
	}
	wg.Wait()
	return firstErr
}

func (e *Executor) migrateOne(ctx context.Context, mv migration.Move) error {
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := e.client.MigrateVM(mv.FromNode, mv.VMID, mv.ToNode)
		e.report(Progress{Move: mv, Attempt: attempt, Err: err})
		if err != nil {
			log.Printf("migration of VM %d (%s -> %s) failed on attempt %d: %v", mv.VMID, mv.FromNode, mv.ToNode, attempt, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.opts.MaxRetries)))

	e.report(Progress{Move: mv, Attempt: attempt, Err: err, Finished: true})
	if err != nil {
		return fmt.Errorf("migrate VM %d from %s to %s: %w", mv.VMID, mv.FromNode, mv.ToNode, err)
	}
	return nil
}

func (e *Executor) report(p Progress) {
	if e.opts.Progress != nil {
		e.opts.Progress(p)
	}
}

// EnsureDeterministicOrder is exposed for tests that want to assert the
// ordering Run applies before dispatch, without re-running the full
// throttled execution.
func EnsureDeterministicOrder(moves []migration.Move) []migration.Move {
	ordered := append([]migration.Move(nil), moves...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MigrationCost < ordered[j].MigrationCost })
	return ordered
}
