package scheduler

import "fmt"

// EventTree is the bare event-name shape the manifest declares a
// dependency tree in, independent of scheduler.Node/Unit so Validate can
// run before any Unit exists.
type EventTree struct {
	Events []string
	Then   *EventTree
}

// Validate confirms a dependency tree only references events that belong
// to the contract it was declared on. The manifest's DependencyTree is
// scoped per-contract (it only ever lists bare event names, never a
// contract-qualified one), so the one way an author could smuggle in a
// cross-contract edge is naming an event that contract doesn't declare —
// Validate catches that rather than silently scheduling nothing for it.
func Validate(contractEvents map[string]bool, tree *EventTree) error {
	if tree == nil {
		return nil
	}
	for _, name := range tree.Events {
		if !contractEvents[name] {
			return fmt.Errorf("scheduler: dependency tree references %q, which is not an event of this contract", name)
		}
	}
	return Validate(contractEvents, tree.Then)
}
