package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsKnownEvents(t *testing.T) {
	events := map[string]bool{"Transfer": true, "Approval": true}
	tree := &EventTree{Events: []string{"Transfer"}, Then: &EventTree{Events: []string{"Approval"}}}
	require.NoError(t, Validate(events, tree))
}

func TestValidate_RejectsUnknownEvent(t *testing.T) {
	events := map[string]bool{"Transfer": true}
	tree := &EventTree{Events: []string{"Withdraw"}}
	err := Validate(events, tree)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Withdraw")
}
