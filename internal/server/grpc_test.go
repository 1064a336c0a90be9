package server_test

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/external/sim"
	"RaffleLedger/internal/ingestion"
	"RaffleLedger/internal/query"
	"RaffleLedger/internal/server"
	"RaffleLedger/internal/state"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type gatewayFixture struct {
	token  *sim.Token
	mgr    *core.Manager
	raffle *core.Raffle
	srv    *httptest.Server
}

func newGatewayFixture(t *testing.T, adminToken string) *gatewayFixture {
	t.Helper()
	bank := sim.NewBank()
	f := &gatewayFixture{token: sim.NewToken(state.CustodyDecimals)}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	deps := core.Deps{
		Token:  f.token,
		Bank:   bank,
		Oracle: sim.NewOracle(uuid.New(), bank, 5),
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	}
	f.mgr = core.NewManager(deps, sim.NewDirectory(), nil)

	organizer, operator := uuid.New(), uuid.New()
	cfg := state.RaffleConfig{
		EntryPrice:   1_000_000,
		PrizeAmount:  50_000_000,
		MinEntries:   1,
		MaxEntries:   10,
		Deadline:     now.Add(time.Hour),
		FeePercent:   5,
		Organizer:    organizer,
		FeeRecipient: uuid.New(),
	}
	f.token.Mint(organizer, cfg.PrizeAmount)
	f.token.Approve(organizer, operator, cfg.PrizeAmount)
	r, err := f.mgr.CreateRaffle(context.Background(), core.CreateParams{
		Config:   cfg,
		Operator: operator,
		Provider: uuid.New(),
	})
	require.NoError(t, err)
	f.raffle = r

	grpcSrv := server.NewGRPCServer("127.0.0.1:0", "127.0.0.1:0", &server.ServerDeps{
		Creator:       f.mgr,
		QueryService:  query.NewQueryService(f.mgr, f.token, bank, nil, nil),
		IngestService: ingestion.NewGRPCIngestService(f.mgr),
		AdminToken:    adminToken,
		Logger:        zerolog.Nop(),
	})
	handler, err := grpcSrv.Handler()
	require.NoError(t, err)
	f.srv = httptest.NewServer(handler)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *gatewayFixture) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *gatewayFixture) post(t *testing.T, path, body string, header http.Header, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// ============================================================================
// Test: StatusFromError
// ============================================================================

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"malformed", errors.Wrap(ingestion.ErrMalformedCommand, "decode"), codes.InvalidArgument},
		{"no history", query.ErrNoHistory, codes.Unavailable},
		{"unknown raffle", errors.Wrap(state.ErrUnknownRaffle, "raffle x"), codes.NotFound},
		{"exists", state.ErrRaffleExists, codes.AlreadyExists},
		{"state", errors.Wrap(state.ErrDeadlinePassed, "purchase"), codes.FailedPrecondition},
		{"authorization", state.ErrNotAdmin, codes.PermissionDenied},
		{"argument", state.ErrZeroCount, codes.InvalidArgument},
		{"configuration", state.ErrInvalidConfig, codes.InvalidArgument},
		{"payment", state.ErrCustodyFailure, codes.Aborted},
		{"unknown", errors.New("boom"), codes.Internal},
		{"passthrough", status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(server.StatusFromError(tc.err)); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
	if server.StatusFromError(nil) != nil {
		t.Error("nil error must map to nil")
	}
}

// ============================================================================
// Test: HTTP gateway
// ============================================================================

func TestGateway_GetRaffle(t *testing.T) {
	f := newGatewayFixture(t, "")

	var view query.RaffleView
	code := f.get(t, "/v1/raffles/"+f.raffle.ID().String(), &view)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Open", view.State)
	require.Equal(t, "1", view.EntryPrice)
	require.Equal(t, "50", view.PrizeAmount)

	var body map[string]interface{}
	require.Equal(t, http.StatusNotFound, f.get(t, "/v1/raffles/"+uuid.New().String(), &body))
	require.Equal(t, "NotFound", body["status"])
	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/raffles/not-a-uuid", nil))
}

func TestGateway_SubmitPurchase(t *testing.T) {
	f := newGatewayFixture(t, "")
	buyer := uuid.New()
	f.token.Mint(buyer, 2_000_000)
	f.token.Approve(buyer, f.raffle.ID(), 2_000_000)

	cmd := fmt.Sprintf(`{"command":{"type":"purchase","idempotency_key":"k1","raffle_id":%q,"caller":%q,"count":2}}`,
		f.raffle.ID(), buyer)
	var reply server.CommandReply
	require.Equal(t, http.StatusOK, f.post(t, "/v1/commands", cmd, nil, &reply))
	require.Equal(t, "purchase", reply.Command)
	require.Equal(t, uint64(2), reply.TotalSold)
	require.Equal(t, uint64(2), f.raffle.EntriesOwned(buyer))

	var ranges server.EntryRangesReply
	require.Equal(t, http.StatusOK, f.get(t, "/v1/raffles/"+f.raffle.ID().String()+"/entries", &ranges))
	require.Len(t, ranges.Ranges, 1)

	// Purchase beyond the approved allowance fails at the custody token.
	var body map[string]interface{}
	require.Equal(t, http.StatusConflict, f.post(t, "/v1/commands", strings.Replace(cmd, `"k1"`, `"k2"`, 1), nil, &body))
	require.Equal(t, "Aborted", body["status"])
}

func TestGateway_SubmitMalformed(t *testing.T) {
	f := newGatewayFixture(t, "")
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/commands", `{"command":{"type":"bogus"}}`, nil, nil))
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/commands", `{}`, nil, nil))
}

func TestGateway_AdminToken(t *testing.T) {
	f := newGatewayFixture(t, "s3cret")

	require.Equal(t, http.StatusForbidden, f.post(t, "/v1/admin/rebuild-projections", "", nil, nil))
	wrong := http.Header{"X-Admin-Token": []string{"nope"}}
	require.Equal(t, http.StatusForbidden, f.post(t, "/v1/admin/rebuild-projections", "", wrong, nil))

	// Authorized, but nothing to rebuild without a database.
	ok := http.Header{"X-Admin-Token": []string{"s3cret"}}
	require.Equal(t, http.StatusServiceUnavailable, f.post(t, "/v1/admin/rebuild-projections", "", ok, nil))
}

func TestGateway_AdminDisabledWithoutToken(t *testing.T) {
	f := newGatewayFixture(t, "")
	require.Equal(t, http.StatusForbidden, f.post(t, "/v1/raffles", `{}`, nil, nil))
}

func TestGateway_HistoryWithoutDatabase(t *testing.T) {
	f := newGatewayFixture(t, "")
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/raffles/"+f.raffle.ID().String()+"/events", nil))
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/directory", nil))
	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/raffles/"+f.raffle.ID().String()+"/events?page_size=x", nil))
}

func TestGateway_ListAndHealth(t *testing.T) {
	f := newGatewayFixture(t, "")

	var list server.ListRafflesReply
	require.Equal(t, http.StatusOK, f.get(t, "/v1/raffles?state=Open", &list))
	require.Len(t, list.Raffles, 1)
	require.Equal(t, f.raffle.ID(), list.Raffles[0].RaffleID)

	require.Equal(t, http.StatusOK, f.get(t, "/healthz", nil))
	require.Equal(t, http.StatusOK, f.get(t, "/metrics", nil))
}
