package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/crypto"
	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/instrumentation"
	"github.com/alanyoungcy/polysettle/internal/oracle"
	"github.com/alanyoungcy/polysettle/internal/server/handler"
	"github.com/alanyoungcy/polysettle/internal/server/middleware"
	"github.com/alanyoungcy/polysettle/internal/server/ws"
	"github.com/alanyoungcy/polysettle/internal/service"
	"github.com/alanyoungcy/polysettle/internal/store/memory"
)

const (
	adminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	userKey  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	testRef  = "BONK/USD"
)

var team = common.HexToAddress("0x00000000000000000000000000000000000000f0")

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

type testAPI struct {
	t     *testing.T
	srv   *httptest.Server
	bus   *memory.SignalBus
	admin *crypto.Signer
	user  *crypto.Signer
	seq   int64
}

func newTestAPI(t *testing.T, limiter domain.RateLimiter) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	admin, err := crypto.NewSigner(adminKey)
	require.NoError(t, err)
	user, err := crypto.NewSigner(userKey)
	require.NoError(t, err)

	prices := oracle.NewStaticSource()
	bus := memory.NewSignalBus()
	audit := memory.NewAuditStore()
	reg := prometheus.NewRegistry()
	metrics := instrumentation.NewMetrics(reg)
	eng := engine.New(memory.NewLedger(), prices, nil, engine.DefaultPolicy(admin.Address(), team))

	settlement := service.NewSettlementService(service.SettlementDeps{
		Engine:  eng,
		Locks:   memory.NewLockManager(),
		Bus:     bus,
		Audit:   audit,
		Prices:  prices,
		Metrics: metrics,
	}, logger)
	reads := service.NewMarketService(eng, nil, audit, prices, logger)

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(bus, metrics, logger)
	go hub.Run(ctx)

	h := NewHandler(Config{
		MaxClockSkew: time.Minute,
		RateLimit:    100,
		RateWindow:   time.Second,
	}, Handlers{
		Health:    handler.NewHealthHandler(map[string]handler.HealthCheck{"ledger": func(context.Context) error { return nil }}, logger),
		Oracles:   handler.NewOracleHandler(settlement, reads, logger),
		Markets:   handler.NewMarketHandler(settlement, reads, logger),
		Positions: handler.NewPositionHandler(settlement, reads, logger),
		Accounts:  handler.NewAccountHandler(settlement, reads, logger),
		Query:     handler.NewQueryHandler(reads, logger),
	}, Deps{
		Replay:   middleware.NewReplayGuard(time.Minute),
		Limiter:  limiter,
		Metrics:  metrics,
		Gatherer: reg,
		Hub:      hub,
	}, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testAPI{t: t, srv: srv, bus: bus, admin: admin, user: user}
}

// do sends a request, signed by s when non-nil, and decodes the JSON reply
// into out when non-nil.
func (a *testAPI) do(s *crypto.Signer, method, path string, body any, out any) int {
	a.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, bytes.NewReader(raw))
	require.NoError(a.t, err)
	if s != nil {
		// Signatures are deterministic; step the timestamp back so repeated
		// identical requests do not trip the replay guard.
		a.seq++
		ts := time.Now().Unix() - a.seq%50
		headers, err := s.Headers(method, req.URL.EscapedPath(), ts, raw)
		require.NoError(a.t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// openMarket funds the admin, publishes a price and opens a one-hour market.
func (a *testAPI) openMarket() domain.Market {
	a.t.Helper()
	admin := a.admin.Address().Hex()
	require.Equal(a.t, http.StatusOK, a.do(a.admin, "POST", "/api/accounts/"+admin+"/fund",
		map[string]any{"amount": engine.DefaultCreationFee}, nil))
	require.Equal(a.t, http.StatusOK, a.do(a.admin, "PUT", "/api/oracles/"+url.PathEscape(testRef)+"/price",
		map[string]any{"value": 150, "expo": -2}, nil))

	var binding domain.OracleBinding
	require.Equal(a.t, http.StatusCreated, a.do(a.admin, "POST", "/api/oracles", map[string]any{"reference": testRef}, &binding))

	var m domain.Market
	require.Equal(a.t, http.StatusCreated, a.do(a.admin, "POST", "/api/markets", map[string]any{
		"symbol":           "BONK",
		"oracle":           binding.Address.Hex(),
		"duration_seconds": 3600,
	}, &m))
	return m
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, nil)

	var health map[string]any
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/health", nil, &health))
	require.Equal(t, "ok", health["status"])

	resp, err := http.Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "polysettle_http_requests_total")
	require.NotEmpty(t, resp.Header.Get(middleware.HeaderRequestID))
}

func TestSignedMarketFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	m := api.openMarket()
	require.Equal(t, "BONK", m.Symbol)
	require.Equal(t, int64(150), m.ReferencePrice.Value)

	var derived struct {
		Address domain.Address `json:"address"`
	}
	require.Equal(t, http.StatusOK, api.do(nil, "GET",
		"/api/address/market?authority="+api.admin.Address().Hex()+"&symbol=BONK", nil, &derived))
	require.Equal(t, m.Address, derived.Address)

	user := api.user.Address().Hex()
	require.Equal(t, http.StatusOK, api.do(api.admin, "POST", "/api/accounts/"+user+"/fund",
		map[string]any{"amount": 500_000_000}, nil))

	var pos domain.Position
	require.Equal(t, http.StatusCreated, api.do(api.user, "POST", "/api/markets/"+m.Address.Hex()+"/positions", nil, &pos))
	require.Equal(t, address.Position(m.Address, api.user.Address()), pos.Address)

	var receipt engine.BetReceipt
	require.Equal(t, http.StatusOK, api.do(api.user, "POST", "/api/markets/"+m.Address.Hex()+"/bets",
		map[string]any{"amount": 100_000_000, "outcome": "yes"}, &receipt))
	require.Equal(t, uint64(158_489_319), receipt.Shares)

	var got domain.Position
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/markets/"+m.Address.Hex()+"/positions/"+user, nil, &got))
	require.Equal(t, uint64(158_489_319), got.YesShares)

	var market domain.Market
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/markets/"+m.Address.Hex(), nil, &market))
	require.Equal(t, uint64(100_000_000), market.TotalFunds)

	var balance struct {
		Balance uint64 `json:"balance"`
	}
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/accounts/"+user, nil, &balance))
	require.Equal(t, uint64(400_000_000), balance.Balance)

	var price domain.Price
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/oracles/"+url.PathEscape(testRef)+"/price", nil, &price))
	require.Equal(t, int64(150), price.Value)

	var audit struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, api.do(nil, "GET", "/api/audit?limit=2", nil, &audit))
	require.Len(t, audit.Entries, 2)
	require.Equal(t, string(domain.EventBetPlaced), audit.Entries[0].Event)

	// Resolution is not due for an hour.
	var failure struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	require.Equal(t, http.StatusConflict, api.do(api.admin, "POST", "/api/markets/"+m.Address.Hex()+"/resolve", nil, &failure))
	require.Equal(t, "invalid_state", failure.Kind)
}

func TestErrorStatuses(t *testing.T) {
	api := newTestAPI(t, nil)
	m := api.openMarket()
	user := api.user.Address().Hex()
	marketPath := "/api/markets/" + m.Address.Hex()

	tests := []struct {
		name   string
		signer *crypto.Signer
		method string
		path   string
		body   any
		want   int
	}{
		{"bet without position", api.user, "POST", marketPath + "/bets", map[string]any{"amount": 100_000_000, "outcome": "no"}, http.StatusNotFound},
		{"fund by non-admin", api.user, "POST", "/api/accounts/" + user + "/fund", map[string]any{"amount": 1}, http.StatusForbidden},
		{"duplicate oracle", api.admin, "POST", "/api/oracles", map[string]any{"reference": testRef}, http.StatusConflict},
		{"unknown field", api.admin, "POST", "/api/oracles", map[string]any{"reference": "X", "extra": 1}, http.StatusBadRequest},
		{"missing reference", api.admin, "POST", "/api/oracles", map[string]any{}, http.StatusBadRequest},
		{"bad outcome", api.user, "POST", marketPath + "/bets", map[string]any{"amount": 100_000_000, "outcome": "maybe"}, http.StatusBadRequest},
		{"bad market address", nil, "GET", "/api/markets/0x1234", nil, http.StatusBadRequest},
		{"unknown market", nil, "GET", "/api/markets/" + domain.Address{9}.Hex(), nil, http.StatusNotFound},
		{"bad quote", nil, "GET", "/api/quote?amount=abc", nil, http.StatusBadRequest},
		{"unsigned transition", nil, "POST", "/api/oracles", map[string]any{"reference": "X"}, http.StatusUnauthorized},
		{"fee before resolution", api.admin, "POST", marketPath + "/fee", nil, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, api.do(tc.signer, tc.method, tc.path, tc.body, nil))
		})
	}

	// Enrolled but unfunded.
	require.Equal(t, http.StatusCreated, api.do(api.user, "POST", marketPath+"/positions", nil, nil))
	require.Equal(t, http.StatusPaymentRequired, api.do(api.user, "POST", marketPath+"/bets",
		map[string]any{"amount": 100_000_000, "outcome": "yes"}, nil))
	require.Equal(t, http.StatusBadRequest, api.do(api.user, "POST", marketPath+"/bets",
		map[string]any{"amount": 99_999, "outcome": "yes"}, nil))
}

func TestSignatureRejections(t *testing.T) {
	api := newTestAPI(t, nil)
	body := []byte(`{"reference":"ETH/USD"}`)

	send := func(mutate func(h http.Header)) int {
		ts := time.Now().Unix()
		headers, err := api.admin.Headers("POST", "/api/oracles", ts, body)
		require.NoError(t, err)
		req, err := http.NewRequest("POST", api.srv.URL+"/api/oracles", bytes.NewReader(body))
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		mutate(req.Header)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusUnauthorized, send(func(h http.Header) {
		h.Set(crypto.HeaderCaller, api.user.Address().Hex())
	}))
	require.Equal(t, http.StatusUnauthorized, send(func(h http.Header) {
		h.Set(crypto.HeaderTimestamp, strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
	}))
	require.Equal(t, http.StatusUnauthorized, send(func(h http.Header) {
		h.Set(crypto.HeaderSignature, "0x"+strings.Repeat("ab", 65))
	}))

	// A valid request is accepted once.
	var captured http.Header
	require.Equal(t, http.StatusCreated, send(func(h http.Header) { captured = h.Clone() }))
	req, err := http.NewRequest("POST", api.srv.URL+"/api/oracles", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header = captured
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimited(t *testing.T) {
	api := newTestAPI(t, denyLimiter{})
	require.Equal(t, http.StatusTooManyRequests, api.do(nil, "GET", "/api/health", nil, nil))
}

func TestWebsocketForwardsEvents(t *testing.T) {
	api := newTestAPI(t, nil)

	wsURL := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello ws.Envelope
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "ws", hello.Channel)

	require.NoError(t, conn.WriteJSON(ws.SubscribeMsg{Action: "subscribe", Channels: []string{"ch:price:*"}}))

	// The hub subscribes asynchronously; keep publishing until a frame lands.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	frames := make(chan ws.Envelope, 4)
	go func() {
		for {
			var env ws.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				close(frames)
				return
			}
			frames <- env
		}
	}()

	deadline := time.After(5 * time.Second)
	for i := 1; ; i++ {
		api.do(api.admin, "PUT", "/api/oracles/"+url.PathEscape(testRef)+"/price", map[string]any{"value": i, "expo": 0}, nil)
		select {
		case env, ok := <-frames:
			require.True(t, ok)
			require.Equal(t, domain.PriceChannel(testRef), env.Channel)
			var ev domain.Event
			require.NoError(t, json.Unmarshal(env.Payload, &ev))
			require.Equal(t, domain.EventPricePublished, ev.Type)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no websocket frame received")
		}
	}
}
