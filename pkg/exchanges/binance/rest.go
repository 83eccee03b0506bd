// Package binance holds the signed REST plumbing shared by the Binance connector variants.
// Every variant owns its own REST value; nothing here is shared between instances.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Config holds per-connector credentials and endpoints.
type Config struct {
	Name       string // registry key, e.g. "binance_futures"
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the live/testnet host (tests, proxies)
	HTTPClient *http.Client
}

// Endpoints describes one Binance API family.
type Endpoints struct {
	Venue       string // used in error messages and logs
	LiveURL     string
	TestnetURL  string
	TimePath    string
	WeightLimit int
}

// REST signs and sends requests for one connector instance.
type REST struct {
	cfg        Config
	ep         Endpoints
	baseURL    string
	httpClient *http.Client
	clock      *common.ServerClock
	budget     *common.WeightBudget
	log        zerolog.Logger
}

// NewREST builds the signer for one API family.
func NewREST(cfg Config, ep Endpoints, log zerolog.Logger) *REST {
	base := ep.LiveURL
	if cfg.Testnet {
		base = ep.TestnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	log = log.With().Str("exchange", cfg.Name).Str("venue", ep.Venue).Logger()
	r := &REST{
		cfg:        cfg,
		ep:         ep,
		baseURL:    base,
		httpClient: hc,
		log:        log,
	}
	r.clock = common.NewServerClock(r.ServerTime, time.Duration(cfg.RecvWindow)*time.Millisecond/2, log)
	r.budget = common.NewWeightBudget(ep.WeightLimit, time.Minute, log)
	return r
}

// Name is the connector registry key.
func (r *REST) Name() string { return r.cfg.Name }

// Clock exposes the server clock so the registry can start its sync loop.
func (r *REST) Clock() *common.ServerClock { return r.clock }

// Budget exposes the request weight budget.
func (r *REST) Budget() *common.WeightBudget { return r.budget }

func (r *REST) now() int64 { return r.clock.Now().UnixMilli() }

// Signed sends an authenticated request; params are signed with HMAC-SHA256.
func (r *REST) Signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if r.cfg.APIKey == "" || r.cfg.APISecret == "" {
		return nil, errs.Newf(errs.ExchangeRejected, "%s: API key/secret required", r.ep.Venue)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(r.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(r.cfg.RecvWindow, 10))
	params.Set("signature", Sign(params.Encode(), r.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	endpoint := r.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "build request")
	}
	req.Header.Set("X-MBX-APIKEY", r.cfg.APIKey)
	return r.do(req)
}

// Public sends an unauthenticated GET.
func (r *REST) Public(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := r.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "build request")
	}
	return r.do(req)
}

func (r *REST) do(req *http.Request) ([]byte, error) {
	if wait := r.budget.Wait(); wait > 0 {
		return nil, errs.Newf(errs.Transient, "%s: request weight exhausted, retry in %s", r.ep.Venue, wait.Truncate(time.Millisecond))
	}
	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, common.ClassifyTransport(r.ep.Venue, err)
	}
	defer res.Body.Close()
	r.budget.Observe(res.Header, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, common.ClassifyTransport(r.ep.Venue, err)
	}
	if res.StatusCode >= 300 {
		return nil, common.ClassifyStatus(fmt.Sprintf("%s %s %s", r.ep.Venue, req.Method, req.URL.Path), res.StatusCode, body)
	}
	return body, nil
}

// ServerTime fetches server time (ms).
func (r *REST) ServerTime(ctx context.Context) (int64, error) {
	body, err := r.Public(ctx, r.ep.TimePath, nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, errs.Wrap(errs.Internal, err, "decode server time")
	}
	return res.ServerTime, nil
}

// BookTicker fetches best bid/ask from path; some endpoints answer with a one-element array.
func (r *REST) BookTicker(ctx context.Context, path, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := r.Public(ctx, path, params)
	if err != nil {
		return common.Ticker{}, errs.Wrap(errs.DataUnavailable, err, "book ticker "+symbol)
	}
	var raw bookTicker
	if len(body) > 0 && body[0] == '[' {
		var list []bookTicker
		if err := json.Unmarshal(body, &list); err != nil || len(list) == 0 {
			return common.Ticker{}, errs.Newf(errs.DataUnavailable, "decode book ticker %s", symbol)
		}
		raw = list[0]
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return common.Ticker{}, errs.Wrap(errs.DataUnavailable, err, "decode book ticker "+symbol)
	}
	ts := time.Now()
	if raw.Time > 0 {
		ts = time.UnixMilli(raw.Time)
	}
	return common.Ticker{
		Exchange: r.cfg.Name,
		Symbol:   raw.Symbol,
		Bid:      ParseFloat(raw.BidPrice),
		Ask:      ParseFloat(raw.AskPrice),
		Time:     ts,
	}, nil
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
	Time     int64  `json:"time"`
}

// Sign returns the hex HMAC-SHA256 of data.
func Sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// FormatFloat renders v without exponent or trailing zeros.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseFloat parses Binance string decimals, 0 on garbage.
func ParseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
