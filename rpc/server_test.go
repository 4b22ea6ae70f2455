package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"custodia/core/node"
	"custodia/crypto"
	"custodia/gateway/auth"
	"custodia/gateway/middleware"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	admin     = testAddr(0xAD)
	inspector = testAddr(0x15)
	lender    = testAddr(0x1E)
	seller    = testAddr(0x5E)
	buyer     = testAddr(0xB0)
)

type testGateway struct {
	server *httptest.Server
	auth   *auth.Authenticator
	node   *node.Node
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	n := node.New(node.Roles{Admin: admin, Inspector: inspector, Lender: lender})
	require.NoError(t, n.CreditAccount(buyer, big.NewInt(1_000)))
	require.NoError(t, n.CreditAccount(lender, big.NewInt(1_000)))

	store, err := OpenStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authn := auth.NewAuthenticator([]byte("test-secret"), "custodia-test")
	srv := NewServer(Options{
		Node:          n,
		Store:         store,
		Authenticator: authn,
		RateLimit:     middleware.RateLimit{RequestsPerMinute: 6_000, Burst: 1_000},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testGateway{server: ts, auth: authn, node: n}
}

func (g *testGateway) do(t *testing.T, as [20]byte, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, g.server.URL+path, reader)
	require.NoError(t, err)
	token, err := g.auth.IssueToken(crypto.MustAddress(as), time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, payload
}

func TestGatewayRequiresAuth(t *testing.T) {
	g := newTestGateway(t)
	resp, err := http.Post(g.server.URL+"/v1/escrow/listings", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayEscrowFlow(t *testing.T) {
	g := newTestGateway(t)

	resp, payload := g.do(t, seller, http.MethodPost, "/v1/escrow/listings",
		map[string]string{"deedUri": "ipfs://deed-1", "price": "10"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))
	var listing struct {
		ID     uint64 `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(payload, &listing))
	require.Equal(t, "pending_inspection", listing.Status)

	base := fmt.Sprintf("/v1/escrow/listings/%d", listing.ID)

	// Seller cannot verify.
	resp, _ = g.do(t, seller, http.MethodPost, base+"/verify", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = g.do(t, inspector, http.MethodPost, base+"/verify", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = g.do(t, seller, http.MethodPost, base+"/terms",
		map[string]string{"price": "10", "escrowAmount": "5"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Wrong earnest amount surfaces as a conflict.
	resp, _ = g.do(t, buyer, http.MethodPost, base+"/deposit", map[string]string{"amount": "4"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = g.do(t, buyer, http.MethodPost, base+"/deposit", map[string]string{"amount": "5"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = g.do(t, inspector, http.MethodPost, base+"/inspection", map[string]bool{"passed": true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, party := range [][20]byte{buyer, seller, lender} {
		resp, _ = g.do(t, party, http.MethodPost, base+"/approve", map[string]string{}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ = g.do(t, lender, http.MethodPost, base+"/fund", map[string]string{"amount": "5"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = g.do(t, lender, http.MethodPost, base+"/finalize", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = g.do(t, seller, http.MethodGet, base+"/deed", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deed struct {
		Owner string `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(payload, &deed))
	require.Equal(t, crypto.MustAddress(buyer), deed.Owner)

	resp, _ = g.do(t, seller, http.MethodGet, "/v1/escrow/listings/999", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGatewayIdempotencyReplay(t *testing.T) {
	g := newTestGateway(t)
	headers := map[string]string{idempotencyHeader: "key-1"}
	body := map[string]string{"deedUri": "ipfs://deed-1", "price": "10"}

	resp, first := g.do(t, seller, http.MethodPost, "/v1/escrow/listings", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, second := g.do(t, seller, http.MethodPost, "/v1/escrow/listings", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.JSONEq(t, string(first), string(second))

	// Only one listing was created.
	_, err := g.node.GetListing(2)
	require.Error(t, err)

	// Same key with a different body is rejected.
	resp, _ = g.do(t, seller, http.MethodPost, "/v1/escrow/listings",
		map[string]string{"deedUri": "ipfs://deed-2", "price": "20"}, headers)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGatewayEventsPolling(t *testing.T) {
	g := newTestGateway(t)
	resp, payload := g.do(t, seller, http.MethodPost, "/v1/escrow/listings",
		map[string]string{"deedUri": "ipfs://deed-1", "price": "10"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))

	res, err := http.Get(g.server.URL + "/v1/events?after=0")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var out struct {
		Events []struct {
			Sequence uint64 `json:"sequence"`
			Type     string `json:"type"`
		} `json:"events"`
		Latest uint64 `json:"latest"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.Len(t, out.Events, 1)
	require.Equal(t, "listing.proposed", out.Events[0].Type)
	require.Equal(t, uint64(1), out.Latest)
}

func TestGatewayRegistryAndAccess(t *testing.T) {
	g := newTestGateway(t)
	doctor, patient := testAddr(0xD0), testAddr(0x9A)

	resp, payload := g.do(t, admin, http.MethodPost, "/v1/registry/doctor/members", map[string]string{
		"address": crypto.MustAddress(doctor),
		"name":    "Dr. Adams",
		"profile": "Cardiology",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))

	// Non-admin mutation is forbidden.
	resp, _ = g.do(t, seller, http.MethodPost, "/v1/registry/patient/members", map[string]string{
		"address": crypto.MustAddress(patient),
		"name":    "Pat Jones",
	}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = g.do(t, admin, http.MethodPost, "/v1/registry/patient/members", map[string]string{
		"address": crypto.MustAddress(patient),
		"name":    "Pat Jones",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, payload = g.do(t, admin, http.MethodPost, "/v1/access/requests", map[string]string{
		"doctor":  crypto.MustAddress(doctor),
		"patient": crypto.MustAddress(patient),
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))
	var request struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(payload, &request))

	resp, _ = g.do(t, doctor, http.MethodPost, fmt.Sprintf("/v1/access/requests/%d/approve", request.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = g.do(t, doctor, http.MethodPost, "/v1/access/records", map[string]string{
		"patient": crypto.MustAddress(patient),
		"cid":     "QmScan",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(payload))
	var record struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(payload, &record))

	resp, payload = g.do(t, admin, http.MethodGet,
		fmt.Sprintf("/v1/access/records/%d/cid?request=%d", record.ID, request.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))
	var cid struct {
		CID string `json:"cid"`
	}
	require.NoError(t, json.Unmarshal(payload, &cid))
	require.Equal(t, "QmScan", cid.CID)

	// A stranger citing the same request is still refused.
	resp, _ = g.do(t, seller, http.MethodGet,
		fmt.Sprintf("/v1/access/records/%d/cid?request=%d", record.ID, request.ID), nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
