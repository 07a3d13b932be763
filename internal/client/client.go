// Package client is a Go client for the settlement HTTP API. Transitions are
// signed with the caller's secp256k1 key.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/crypto"
	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/service"
)

// Client talks to one settlement server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer

	mu     sync.Mutex
	lastTS int64
	now    func() time.Time
}

// New creates a Client for baseURL, e.g. "http://localhost:8080". signer may
// be nil for read-only use.
func New(baseURL string, signer *crypto.Signer) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		now:    time.Now,
	}
}

// Caller returns the signing identity, or the zero address without a signer.
func (c *Client) Caller() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// Audit is one page of the audit log.
type Audit struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

type balance struct {
	Owner   common.Address `json:"owner"`
	Balance uint64         `json:"balance"`
}

type derived struct {
	Address domain.Address `json:"address"`
}

// Health returns the per-dependency health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out, false); err != nil {
		return nil, fmt.Errorf("client: health: %w", err)
	}
	return out, nil
}

// RegisterOracle binds reference to the caller.
func (c *Client) RegisterOracle(ctx context.Context, reference string) (domain.OracleBinding, error) {
	var out domain.OracleBinding
	body := map[string]any{"reference": reference}
	if err := c.do(ctx, http.MethodPost, "/api/oracles", nil, body, &out, true); err != nil {
		return out, fmt.Errorf("client: register oracle: %w", err)
	}
	return out, nil
}

// GetOracle fetches a binding.
func (c *Client) GetOracle(ctx context.Context, addr domain.Address) (domain.OracleBinding, error) {
	var out domain.OracleBinding
	if err := c.do(ctx, http.MethodGet, "/api/oracles/"+addr.Hex(), nil, nil, &out, false); err != nil {
		return out, fmt.Errorf("client: get oracle: %w", err)
	}
	return out, nil
}

// PublishPrice records value * 10^expo for reference.
func (c *Client) PublishPrice(ctx context.Context, reference string, value int64, expo int32) (domain.Price, error) {
	var out domain.Price
	body := map[string]any{"value": value, "expo": expo}
	if err := c.do(ctx, http.MethodPut, pricePath(reference), nil, body, &out, true); err != nil {
		return out, fmt.Errorf("client: publish price: %w", err)
	}
	return out, nil
}

// GetPrice fetches the latest reading for reference.
func (c *Client) GetPrice(ctx context.Context, reference string) (domain.Price, error) {
	var out domain.Price
	if err := c.do(ctx, http.MethodGet, pricePath(reference), nil, nil, &out, false); err != nil {
		return out, fmt.Errorf("client: get price: %w", err)
	}
	return out, nil
}

// CreateMarket opens a market with the caller as authority.
func (c *Client) CreateMarket(ctx context.Context, symbol string, oracle domain.Address, duration time.Duration) (domain.Market, error) {
	var out domain.Market
	body := map[string]any{
		"symbol":           symbol,
		"oracle":           oracle.Hex(),
		"duration_seconds": int64(duration / time.Second),
	}
	if err := c.do(ctx, http.MethodPost, "/api/markets", nil, body, &out, true); err != nil {
		return out, fmt.Errorf("client: create market: %w", err)
	}
	return out, nil
}

// GetMarket fetches a market.
func (c *Client) GetMarket(ctx context.Context, addr domain.Address) (domain.Market, error) {
	var out domain.Market
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+addr.Hex(), nil, nil, &out, false); err != nil {
		return out, fmt.Errorf("client: get market: %w", err)
	}
	return out, nil
}

// EnrollPosition opens the caller's position in market.
func (c *Client) EnrollPosition(ctx context.Context, market domain.Address) (domain.Position, error) {
	var out domain.Position
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/positions", nil, nil, &out, true); err != nil {
		return out, fmt.Errorf("client: enroll position: %w", err)
	}
	return out, nil
}

// GetPosition fetches user's position in market.
func (c *Client) GetPosition(ctx context.Context, market domain.Address, user common.Address) (domain.Position, error) {
	var out domain.Position
	path := "/api/markets/" + market.Hex() + "/positions/" + user.Hex()
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out, false); err != nil {
		return out, fmt.Errorf("client: get position: %w", err)
	}
	return out, nil
}

// PlaceBet stakes amount on outcome.
func (c *Client) PlaceBet(ctx context.Context, market domain.Address, amount uint64, outcome domain.Outcome) (engine.BetReceipt, error) {
	var out engine.BetReceipt
	body := map[string]any{"amount": amount, "outcome": string(outcome)}
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/bets", nil, body, &out, true); err != nil {
		return out, fmt.Errorf("client: place bet: %w", err)
	}
	return out, nil
}

// ResolveMarket settles market against its oracle.
func (c *Client) ResolveMarket(ctx context.Context, market domain.Address) (domain.Market, error) {
	var out domain.Market
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/resolve", nil, nil, &out, true); err != nil {
		return out, fmt.Errorf("client: resolve market: %w", err)
	}
	return out, nil
}

// ClaimWinnings pays out the caller's position.
func (c *Client) ClaimWinnings(ctx context.Context, market domain.Address) (engine.ClaimReceipt, error) {
	var out engine.ClaimReceipt
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/claim", nil, nil, &out, true); err != nil {
		return out, fmt.Errorf("client: claim winnings: %w", err)
	}
	return out, nil
}

// WithdrawFee releases the market fee to the team wallet.
func (c *Client) WithdrawFee(ctx context.Context, market domain.Address) (engine.FeeReceipt, error) {
	var out engine.FeeReceipt
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/fee", nil, nil, &out, true); err != nil {
		return out, fmt.Errorf("client: withdraw fee: %w", err)
	}
	return out, nil
}

// Fund credits owner. Only the admin may call it.
func (c *Client) Fund(ctx context.Context, owner common.Address, amount uint64) (uint64, error) {
	var out balance
	body := map[string]any{"amount": amount}
	if err := c.do(ctx, http.MethodPost, "/api/accounts/"+owner.Hex()+"/fund", nil, body, &out, true); err != nil {
		return 0, fmt.Errorf("client: fund: %w", err)
	}
	return out.Balance, nil
}

// Balance returns owner's available balance.
func (c *Client) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	var out balance
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+owner.Hex(), nil, nil, &out, false); err != nil {
		return 0, fmt.Errorf("client: balance: %w", err)
	}
	return out.Balance, nil
}

// Quote previews the shares amount would buy.
func (c *Client) Quote(ctx context.Context, amount uint64) (service.QuoteResult, error) {
	var out service.QuoteResult
	q := url.Values{"amount": {strconv.FormatUint(amount, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/quote", q, nil, &out, false); err != nil {
		return out, fmt.Errorf("client: quote: %w", err)
	}
	return out, nil
}

// OracleAddress derives the binding address of (owner, reference).
func (c *Client) OracleAddress(ctx context.Context, owner common.Address, reference string) (domain.Address, error) {
	return c.derive(ctx, "oracle", url.Values{"owner": {owner.Hex()}, "reference": {reference}})
}

// MarketAddress derives the market address of (authority, symbol).
func (c *Client) MarketAddress(ctx context.Context, authority common.Address, symbol string) (domain.Address, error) {
	return c.derive(ctx, "market", url.Values{"authority": {authority.Hex()}, "symbol": {symbol}})
}

// PositionAddress derives the position address of (market, user).
func (c *Client) PositionAddress(ctx context.Context, market domain.Address, user common.Address) (domain.Address, error) {
	return c.derive(ctx, "position", url.Values{"market": {market.Hex()}, "user": {user.Hex()}})
}

// Audit lists audit entries newest first.
func (c *Client) Audit(ctx context.Context, limit, offset int) (Audit, error) {
	var out Audit
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if err := c.do(ctx, http.MethodGet, "/api/audit", q, nil, &out, false); err != nil {
		return out, fmt.Errorf("client: audit: %w", err)
	}
	return out, nil
}

// ListArchives lists the archived months. The server answers 404 when no
// archive store is configured.
func (c *Client) ListArchives(ctx context.Context) ([]domain.ArchiveMonth, error) {
	var out struct {
		Months []domain.ArchiveMonth `json:"months"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/archive", nil, nil, &out, false); err != nil {
		return nil, fmt.Errorf("client: list archives: %w", err)
	}
	return out.Months, nil
}

// ReadArchive returns the markets archived for month ("2006-01").
func (c *Client) ReadArchive(ctx context.Context, month string) ([]domain.SettledMarket, error) {
	var out struct {
		Markets []domain.SettledMarket `json:"markets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/archive/"+url.PathEscape(month), nil, nil, &out, false); err != nil {
		return nil, fmt.Errorf("client: read archive %s: %w", month, err)
	}
	return out.Markets, nil
}

func (c *Client) derive(ctx context.Context, kind string, q url.Values) (domain.Address, error) {
	var out derived
	if err := c.do(ctx, http.MethodGet, "/api/address/"+kind, q, nil, &out, false); err != nil {
		return domain.Address{}, fmt.Errorf("client: derive %s address: %w", kind, err)
	}
	return out.Address, nil
}

func pricePath(reference string) string {
	return "/api/oracles/" + url.PathEscape(reference) + "/price"
}

// do sends a request and decodes a 2xx JSON reply into out. Signed requests
// carry the caller headers over the escaped path.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, signed bool) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		if c.signer == nil {
			return fmt.Errorf("no signing key configured: %w", domain.ErrUnauthorized)
		}
		headers, err := c.signer.Headers(method, req.URL.EscapedPath(), c.nextTimestamp(), raw)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// nextTimestamp returns a strictly increasing unix second. Signatures are
// deterministic, so two identical requests need distinct timestamps to pass
// the server's replay guard.
func (c *Client) nextTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().Unix()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// checkHTTPStatus maps a non-2xx reply to the error kind the server
// reported.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var e struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		e.Error = string(body)
	}
	if sentinel := domain.ErrorForKind(e.Kind); sentinel != nil {
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, e.Error, sentinel)
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, e.Error, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, e.Error, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, e.Error, domain.ErrRateLimited)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, e.Error)
	}
}
