package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validManifest = `
name: demo
project_type: no-code
networks:
  - name: mainnet
    chain_id: 1
    rpc: ${RPC_URL:-http://localhost:8545}
contracts:
  - name: Token
    abi:
      - ./abis/token.json
    details:
      - network: mainnet
        addresses: ["0xabc0000000000000000000000000000000000a"]
        start_block: 100
    events:
      - name: Transfer
`

func TestLoad_ExpandsEnvAndResolvesABIPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abis"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abis", "token.json"), []byte("[]"), 0o644))
	path := writeManifest(t, dir, validManifest)

	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", m.Name)
	require.Equal(t, "http://localhost:8545", m.Networks[0].RPC)
	require.Equal(t, filepath.Join(dir, "abis", "token.json"), m.Contracts[0].ABI[0])
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abis"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abis", "token.json"), []byte("[]"), 0o644))
	path := writeManifest(t, dir, validManifest)

	t.Setenv("RPC_URL", "https://rpc.example.com")
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.com", m.Networks[0].RPC)
}

func TestLoad_RejectsUndeclaredNetwork(t *testing.T) {
	dir := t.TempDir()
	body := `
name: demo
networks:
  - name: mainnet
    rpc: http://localhost:8545
contracts:
  - name: Token
    abi: ["./abis/token.json"]
    details:
      - network: sepolia
        addresses: ["0xabc0000000000000000000000000000000000a"]
        start_block: 0
`
	path := writeManifest(t, dir, body)
	_, err := Load(path)
	require.ErrorContains(t, err, "undeclared network")
}

func TestLoad_RejectsContractWithoutAddressesOrFactory(t *testing.T) {
	dir := t.TempDir()
	body := `
name: demo
networks:
  - name: mainnet
    rpc: http://localhost:8545
contracts:
  - name: Token
    abi: ["./abis/token.json"]
    details:
      - network: mainnet
        start_block: 0
`
	path := writeManifest(t, dir, body)
	_, err := Load(path)
	require.ErrorContains(t, err, "no addresses and no factory")
}

func TestCanonical_OrderIndependentOfFieldPopulationOrder(t *testing.T) {
	a := &Manifest{Name: "x", Networks: []Network{{Name: "mainnet", RPC: "http://a"}}}
	b := &Manifest{Networks: []Network{{RPC: "http://a", Name: "mainnet"}}}
	b.Name = "x"

	eq, err := Equal(a, b)
	require.NoError(t, err)
	require.True(t, eq)

	b.Networks[0].RPC = "http://b"
	eq, err = Equal(a, b)
	require.NoError(t, err)
	require.False(t, eq)
}
