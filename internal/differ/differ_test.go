package differ

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainkit/evmindexer/internal/manifest"
)

const baseManifestYAML = `
name: test-indexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 1
    rpc: https://eth.rpc.example.com
contracts:
  - name: USDC
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
        start_block: 1000000
    events:
      - name: Transfer
storage:
  postgres:
    enabled: true
`

func load(t *testing.T, yaml string) *manifest.Manifest {
	t.Helper()
	// Every snapshot is loaded through the same relative path so the
	// resolved ABI path is identical between old and next; only the
	// manifest body differs.
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abi.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(yaml), 0o644))
	m, err := manifest.Load("manifest.yaml")
	require.NoError(t, err)
	return m
}

func TestCompute_NoChange(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, baseManifestYAML)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, NoChange, diff.Action)
	require.Empty(t, diff.Changes)
}

func TestCompute_NameChangeRequiresFullRestart(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, `
name: renamed-indexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 1
    rpc: https://eth.rpc.example.com
contracts:
  - name: USDC
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
        start_block: 1000000
    events:
      - name: Transfer
storage:
  postgres:
    enabled: true
`)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, RequiresFullRestart, diff.Action)
	require.NotEmpty(t, diff.Reason)
}

func TestCompute_ContractAdded(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, `
name: test-indexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 1
    rpc: https://eth.rpc.example.com
contracts:
  - name: USDC
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
        start_block: 1000000
    events:
      - name: Transfer
  - name: WETH
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"]
        start_block: 2000000
    events:
      - name: Transfer
storage:
  postgres:
    enabled: true
`)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, SelectiveRestart, diff.Action)
	require.Contains(t, diff.Plan.ContractsToAdd, "WETH")
}

func TestCompute_NetworkRPCChanged(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, `
name: test-indexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 1
    rpc: https://new.rpc.example.com
contracts:
  - name: USDC
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
        start_block: 1000000
    events:
      - name: Transfer
storage:
  postgres:
    enabled: true
`)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, SelectiveRestart, diff.Action)
	require.Contains(t, diff.Plan.NetworksToReconnect, "ethereum")
}

func TestCompute_StorageChangedIsSelectiveRestart(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, `
name: test-indexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 1
    rpc: https://eth.rpc.example.com
contracts:
  - name: USDC
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
        start_block: 1000000
    events:
      - name: Transfer
storage:
  csv:
    enabled: true
    path: ./out
`)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, SelectiveRestart, diff.Action)
	require.True(t, diff.Plan.StorageChanged)
}

func TestCompute_ConfigOnlyChangeIsHotApply(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, baseManifestYAML+`
config:
  buffer_size: 100
  callback_concurrency: 4
`)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, HotApply, diff.Action)
}

func TestCompute_EventAddedToContractIsContractRestart(t *testing.T) {
	old := load(t, baseManifestYAML)
	next := load(t, `
name: test-indexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 1
    rpc: https://eth.rpc.example.com
contracts:
  - name: USDC
    abi:
      - ./abi.json
    details:
      - network: ethereum
        addresses: ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
        start_block: 1000000
    events:
      - name: Transfer
      - name: Approval
storage:
  postgres:
    enabled: true
`)

	diff, err := Compute(old, next)
	require.NoError(t, err)
	require.Equal(t, SelectiveRestart, diff.Action)
	require.Contains(t, diff.Plan.ContractsToRestart, "USDC")
}
