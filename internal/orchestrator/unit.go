package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainkit/evmindexer/internal/fetcher"
	"github.com/chainkit/evmindexer/internal/processor"
	"github.com/chainkit/evmindexer/internal/progress"
)

// eventUnit is the concrete scheduler.Unit the Orchestrator builds for one
// (contract, event, network) tuple: a fetcher.Config describing what to
// fetch, and a processor.Processor describing how to decode and sink it.
// RunHistoric and RunLive each drive one Fetcher/Processor pairing to
// completion for their respective phase, matching scheduler.Unit's
// contract that a historic run blocks until every batch has been durably
// dispatched before the tree is allowed to descend into a `then` subtree.
type eventUnit struct {
	name         string
	fetchCfg     fetcher.Config
	proc         *processor.Processor
	store        *progress.Store
	progressKey  progress.Key
	liveEnabled  bool
}

func (u *eventUnit) Name() string { return u.name }

// resume looks up the durable watermark for this unit and returns a
// fetcher.Config starting just past it, falling back to the manifest's
// configured start block the first time this (contract, event, network)
// has ever run.
func (u *eventUnit) resume() (fetcher.Config, error) {
	cfg := u.fetchCfg
	rec, ok, err := u.store.Get(u.progressKey)
	if err != nil {
		return cfg, fmt.Errorf("orchestrator: %s: resume watermark: %w", u.name, err)
	}
	if ok && rec.LastSyncedBlock >= cfg.StartBlock {
		cfg.StartBlock = rec.LastSyncedBlock + 1
	}
	return cfg, nil
}

// RunHistoric fetches and processes [resume point, safe-distance-adjusted
// head] once, in strict order — IndexInOrder is forced on regardless of
// the manifest's own per-event setting because the scheduler tree's
// ordering guarantee only holds if every batch is fully dispatched before
// the next is read.
func (u *eventUnit) RunHistoric(ctx context.Context) error {
	cfg, err := u.resume()
	if err != nil {
		return err
	}
	cfg.LiveIndexing = false

	results, errs := fetcher.Run(ctx, cfg)

	p := *u.proc
	p.IndexInOrder = true
	if err := p.Run(ctx, results); err != nil {
		return fmt.Errorf("orchestrator: %s: historic: %w", u.name, err)
	}

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("orchestrator: %s: historic: %w", u.name, err)
		}
	default:
	}
	return nil
}

// RunLive re-reads the watermark (the historic phase that just finished
// advanced it) and tails the chain head until ctx is cancelled, honoring
// the manifest's own index_event_in_order setting for whether batches must
// be awaited one at a time or may process concurrently.
func (u *eventUnit) RunLive(ctx context.Context) error {
	cfg, err := u.resume()
	if err != nil {
		return err
	}
	cfg.LiveIndexing = true

	results, errs := fetcher.Run(ctx, cfg)

	if err := u.proc.Run(ctx, results); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("orchestrator: %s: live: %w", u.name, err)
	}

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("orchestrator: %s: live: %w", u.name, err)
		}
	default:
	}
	return nil
}

func (u *eventUnit) LiveIndexingEnabled() bool { return u.liveEnabled }
