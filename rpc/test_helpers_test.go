package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core"
	"trustledger/storage"
)

const oracleCodeHex = "0x608060405260043610603f5760003560e01c80632e64cec114604457"

type testResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func testAddr(fill byte) common.Address {
	var a common.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func newTestNode(t testing.TB, funded ...common.Address) *core.Node {
	t.Helper()
	alloc := make([]core.GenesisAlloc, 0, len(funded))
	for _, a := range funded {
		alloc = append(alloc, core.GenesisAlloc{Address: a, Balance: big.NewInt(1_000)})
	}
	node, err := core.NewNode(storage.NewMemDB(), core.Options{Network: "rpc-test", Genesis: alloc})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func newTestServer(t testing.TB, node *core.Node, cfg ServerConfig) *Server {
	t.Helper()
	srv, err := NewServer(node, cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func marshalParam(t testing.TB, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func newRPCRequest(t testing.TB, method string, param interface{}) *http.Request {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if param != nil {
		body["params"] = []json.RawMessage{marshalParam(t, param)}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.RemoteAddr = "192.0.2.10:5000"
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(t testing.TB, handler http.Handler, req *http.Request) (int, testResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var resp testResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, resp
}

// call issues method and requires a successful result, decoded into out.
func call(t testing.TB, handler http.Handler, method string, param interface{}, out interface{}) {
	t.Helper()
	status, resp := serve(t, handler, newRPCRequest(t, method, param))
	if resp.Error != nil {
		t.Fatalf("%s: unexpected error (status %d): %+v", method, status, resp.Error)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		t.Fatalf("%s: decode result: %v", method, err)
	}
}

// callError issues method and requires an error carrying code.
func callError(t testing.TB, handler http.Handler, method string, param interface{}, wantStatus, wantCode int) {
	t.Helper()
	status, resp := serve(t, handler, newRPCRequest(t, method, param))
	if resp.Error == nil {
		t.Fatalf("%s: expected error code %d, got result %s", method, wantCode, string(resp.Result))
	}
	if resp.Error.Code != wantCode {
		t.Fatalf("%s: expected code %d, got %d (%s)", method, wantCode, resp.Error.Code, resp.Error.Message)
	}
	if status != wantStatus {
		t.Fatalf("%s: expected status %d, got %d", method, wantStatus, status)
	}
}
