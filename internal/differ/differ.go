// Package differ compares two manifest snapshots and classifies the change
// between them so a running Orchestrator knows how much of itself it needs
// to tear down: nothing, a config value swapped in place, a subset of
// contracts/networks restarted, or the whole process.
package differ

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chainkit/evmindexer/internal/manifest"
)

// Action is the four-way classification §4.9 requires the differ to
// collapse every possible manifest change into.
type Action int

const (
	// NoChange means the two manifests serialize identically.
	NoChange Action = iota
	// HotApply means only tuning parameters changed and nothing needs a
	// restart. Compute only classifies; it does not push the new values
	// into running pipelines.
	HotApply
	// SelectiveRestart means a bounded set of contracts, networks, or the
	// storage layer needs to restart, but the project identity held.
	SelectiveRestart
	// RequiresFullRestart means an identity-bearing field changed; nothing
	// can be salvaged from the running process.
	RequiresFullRestart
)

func (a Action) String() string {
	switch a {
	case NoChange:
		return "no_change"
	case HotApply:
		return "hot_apply"
	case SelectiveRestart:
		return "selective_restart"
	case RequiresFullRestart:
		return "requires_full_restart"
	default:
		return "unknown"
	}
}

// Change is one individual difference found between the two manifests.
// Diff.Changes lists every change found, except that a project name or
// project type change returns at once with that single change: the
// remaining sections are not compared in that case.
type Change struct {
	Kind   string // e.g. "contract_added", "network_rpc_changed"
	Target string // contract or network name the change applies to, if any
}

// RestartPlan enumerates exactly what a SelectiveRestart action must bring
// down and back up; every other field is left at its zero value when the
// action is not SelectiveRestart.
type RestartPlan struct {
	ContractsToAdd      []string
	ContractsToRemove   []string
	ContractsToRestart  []string
	NetworksToReconnect []string
	StorageChanged      bool
}

func (p RestartPlan) isEmpty() bool {
	return len(p.ContractsToAdd) == 0 && len(p.ContractsToRemove) == 0 &&
		len(p.ContractsToRestart) == 0 && len(p.NetworksToReconnect) == 0 &&
		!p.StorageChanged
}

// Diff is the full result of comparing two manifests.
type Diff struct {
	Action  Action
	Reason  string // set only for RequiresFullRestart
	Plan    RestartPlan
	Changes []Change
}

// Compute classifies the difference between old and next. Apart from the
// project name, project type and the per-network RPC and native-transfer
// fields, which are compared directly, each section is compared by
// canonical serialization equality rather than hand-rolled
// field-by-field predicates (per §4.9), so a newly added manifest field is
// caught automatically instead of silently falling through as "no change".
func Compute(old, next *manifest.Manifest) (Diff, error) {
	var changes []Change
	var plan RestartPlan
	configOnly := true

	if old.Name != next.Name {
		return Diff{
			Action: RequiresFullRestart,
			Reason: "project name changed -- this affects derived schema/table naming",
			Changes: []Change{{Kind: "project_name_changed"}},
		}, nil
	}

	if old.ProjectType != next.ProjectType {
		return Diff{
			Action: RequiresFullRestart,
			Reason: "project type changed (rust <-> no-code)",
			Changes: []Change{{Kind: "project_type_changed"}},
		}, nil
	}

	netChanges, err := diffNetworks(old, next, &plan, &configOnly)
	if err != nil {
		return Diff{}, err
	}
	changes = append(changes, netChanges...)

	contractChanges, err := diffContracts(old, next, &plan, &configOnly)
	if err != nil {
		return Diff{}, err
	}
	changes = append(changes, contractChanges...)

	if changed, err := sectionChanged(old.Config, next.Config); err != nil {
		return Diff{}, err
	} else if changed {
		changes = append(changes, Change{Kind: "config_changed"})
	}

	if changed, err := sectionChanged(old.Storage, next.Storage); err != nil {
		return Diff{}, err
	} else if changed {
		changes = append(changes, Change{Kind: "storage_changed"})
		plan.StorageChanged = true
		configOnly = false
	}

	if changed, err := sectionChanged(old.GraphQL, next.GraphQL); err != nil {
		return Diff{}, err
	} else if changed {
		changes = append(changes, Change{Kind: "graphql_changed"})
	}

	if old.NativeTransfers != next.NativeTransfers {
		changes = append(changes, Change{Kind: "native_transfers_changed"})
		configOnly = false
	}

	if changed, err := sectionChanged(old.Global, next.Global); err != nil {
		return Diff{}, err
	} else if changed {
		changes = append(changes, Change{Kind: "global_changed"})
		configOnly = false
	}

	if changed, err := sectionChanged(old.Relationships, next.Relationships); err != nil {
		return Diff{}, err
	} else if changed {
		changes = append(changes, Change{Kind: "relationships_changed"})
		configOnly = false
	}

	if len(changes) == 0 {
		return Diff{Action: NoChange}, nil
	}

	if configOnly && plan.isEmpty() {
		return Diff{Action: HotApply, Changes: changes}, nil
	}

	return Diff{Action: SelectiveRestart, Plan: plan, Changes: changes}, nil
}

// sectionChanged compares two values' canonical JSON encodings. It is the
// building block every non-identity-bearing manifest section is diffed
// with, so adding a field to any of those sections is automatically caught
// without touching this file.
func sectionChanged(a, b any) (bool, error) {
	ca, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(ca, cb), nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("differ: marshal %T: %w", v, err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("differ: compact: %w", err)
	}
	return compact.Bytes(), nil
}

func diffNetworks(old, next *manifest.Manifest, plan *RestartPlan, configOnly *bool) ([]Change, error) {
	oldByName := indexByName(old.Networks, func(n manifest.Network) string { return n.Name })
	newByName := indexByName(next.Networks, func(n manifest.Network) string { return n.Name })

	var changes []Change
	for name := range newByName {
		if _, ok := oldByName[name]; !ok {
			changes = append(changes, Change{Kind: "network_added", Target: name})
			*configOnly = false
		}
	}
	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			changes = append(changes, Change{Kind: "network_removed", Target: name})
			*configOnly = false
		}
	}
	for name, oldNet := range oldByName {
		newNet, ok := newByName[name]
		if !ok {
			continue
		}
		if oldNet.RPC != newNet.RPC {
			changes = append(changes, Change{Kind: "network_rpc_changed", Target: name})
			plan.NetworksToReconnect = append(plan.NetworksToReconnect, name)
			*configOnly = false
			continue
		}
		rest, err := sectionChanged(stripRPC(oldNet), stripRPC(newNet))
		if err != nil {
			return nil, err
		}
		if rest {
			changes = append(changes, Change{Kind: "network_config_changed", Target: name})
			*configOnly = false
		}
	}
	return changes, nil
}

// stripRPC zeroes the RPC field before comparing the rest of a Network so
// an RPC change is reported exactly once as network_rpc_changed rather than
// also tripping network_config_changed.
func stripRPC(n manifest.Network) manifest.Network {
	n.RPC = ""
	return n
}

func diffContracts(old, next *manifest.Manifest, plan *RestartPlan, configOnly *bool) ([]Change, error) {
	oldByName := indexByName(old.Contracts, func(c manifest.Contract) string { return c.Name })
	newByName := indexByName(next.Contracts, func(c manifest.Contract) string { return c.Name })

	var changes []Change
	for name := range newByName {
		if _, ok := oldByName[name]; !ok {
			changes = append(changes, Change{Kind: "contract_added", Target: name})
			plan.ContractsToAdd = append(plan.ContractsToAdd, name)
			*configOnly = false
		}
	}
	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			changes = append(changes, Change{Kind: "contract_removed", Target: name})
			plan.ContractsToRemove = append(plan.ContractsToRemove, name)
			*configOnly = false
		}
	}
	for name, oldContract := range oldByName {
		newContract, ok := newByName[name]
		if !ok {
			continue
		}
		changed, err := sectionChanged(oldContract, newContract)
		if err != nil {
			return nil, err
		}
		if changed {
			changes = append(changes, Change{Kind: "contract_modified", Target: name})
			plan.ContractsToRestart = append(plan.ContractsToRestart, name)
			*configOnly = false
		}
	}
	return changes, nil
}

func indexByName[T any](items []T, key func(T) string) map[string]T {
	out := make(map[string]T, len(items))
	for _, item := range items {
		out[key(item)] = item
	}
	return out
}
