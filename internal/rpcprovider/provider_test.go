package rpcprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// fakeNode answers only eth_chainId, enough to exercise Dial's
// verification step without standing up a full node.
func fakeNode(t *testing.T, chainIDHex string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result interface{}
		switch req.Method {
		case "eth_chainId":
			result = chainIDHex
		default:
			result = nil
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}))
	}))
}

func TestDial_AcceptsMatchingChainID(t *testing.T) {
	srv := fakeNode(t, "0x1")
	defer srv.Close()

	p, err := Dial(context.Background(), "mainnet", srv.URL, 1, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, int64(1), p.ChainID())
}

func TestDial_RejectsMismatchedChainID(t *testing.T) {
	srv := fakeNode(t, "0x89")
	defer srv.Close()

	_, err := Dial(context.Background(), "mainnet", srv.URL, 1, zerolog.Nop())
	require.ErrorContains(t, err, "chain id mismatch")
}

func TestHexBlockNumber(t *testing.T) {
	require.Equal(t, "0x0", hexBlockNumber(0))
	require.Equal(t, "0x64", hexBlockNumber(100))
}
