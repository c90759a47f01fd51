// Package kis is a small REST client for the broker's OAuth and quotation endpoints.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

const (
	DefaultBaseURL = "https://openapi.koreainvestment.com:9443"

	approvalPath = "/oauth2/Approval"
	tokenPath    = "/oauth2/tokenP"
	pricePath    = "/uapi/overseas-price/v1/quotations/price-detail"

	trPriceDetail = "HHDFS76200200"
	tokenKey      = "access_token"
	tokenMargin   = time.Minute
)

// ErrNoSnapshot is returned when the quotation endpoint has no price for the instrument.
var ErrNoSnapshot = market.ErrNoSnapshot

// APIError is a non-success answer from the broker.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kis api: status %d code %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("kis api: status %d: %s", e.Status, e.Message)
}

// Credentials identify the application against the broker.
type Credentials struct {
	AppKey    string
	AppSecret string
}

// Client issues approval keys and access tokens and reads price snapshots.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	tokens  *ristretto.Cache
	log     zerolog.Logger
	mu      sync.Mutex
}

// New constructs a client; an empty baseURL selects the production endpoint.
func New(baseURL string, creds Credentials, log zerolog.Logger) (*Client, error) {
	if creds.AppKey == "" || creds.AppSecret == "" {
		return nil, errors.New("kis: app key and secret are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e3,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  cache,
		log:     log.With().Str("component", "kis").Logger(),
	}, nil
}

// Close releases the token cache.
func (c *Client) Close() {
	c.tokens.Close()
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// ApprovalKey requests a websocket approval key.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.creds.AppKey,
		"secretkey":  c.creds.AppSecret,
	}
	var resp approvalResponse
	if err := c.postJSON(ctx, approvalPath, body, &resp); err != nil {
		return "", fmt.Errorf("approval key: %w", err)
	}
	if resp.ApprovalKey == "" {
		return "", errors.New("approval key: empty response")
	}
	c.log.Debug().Msg("issued approval key")
	return resp.ApprovalKey, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SessionToken returns a cached access token, requesting a new one shortly before expiry.
func (c *Client) SessionToken(ctx context.Context) (string, error) {
	if v, ok := c.tokens.Get(tokenKey); ok {
		return v.(string), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.tokens.Get(tokenKey); ok {
		return v.(string), nil
	}

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.creds.AppKey,
		"appsecret":  c.creds.AppSecret,
	}
	var resp tokenResponse
	if err := c.postJSON(ctx, tokenPath, body, &resp); err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("access token: empty response")
	}
	if ttl := time.Duration(resp.ExpiresIn)*time.Second - tokenMargin; ttl > 0 {
		c.tokens.SetWithTTL(tokenKey, resp.AccessToken, 1, ttl)
		c.tokens.Wait()
	}
	c.log.Info().Int64("expires_in", resp.ExpiresIn).Msg("issued access token")
	return resp.AccessToken, nil
}

// InvalidateToken drops the cached access token.
func (c *Client) InvalidateToken() {
	c.tokens.Del(tokenKey)
}

type priceDetailResponse struct {
	RtCd   string      `json:"rt_cd"`
	MsgCd  string      `json:"msg_cd"`
	Msg1   string      `json:"msg1"`
	Output priceDetail `json:"output"`
}

type priceDetail struct {
	Open string `json:"open"`
	High string `json:"high"`
	Low  string `json:"low"`
	Last string `json:"last"`
	TVol string `json:"tvol"`
	Bid  string `json:"pbid"`
	Ask  string `json:"pask"`
}

// Snapshot reads the current price detail of inst as a snapshot market event.
func (c *Client) Snapshot(ctx context.Context, inst market.Instrument) (market.MarketEvent, error) {
	token, err := c.SessionToken(ctx)
	if err != nil {
		return market.MarketEvent{}, err
	}
	q := url.Values{}
	q.Set("AUTH", "")
	q.Set("EXCD", inst.Exchange)
	q.Set("SYMB", inst.Symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pricePath+"?"+q.Encode(), nil)
	if err != nil {
		return market.MarketEvent{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)
	req.Header.Set("tr_id", trPriceDetail)
	req.Header.Set("custtype", "P")

	var resp priceDetailResponse
	if err := c.do(req, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.InvalidateToken()
		}
		return market.MarketEvent{}, fmt.Errorf("price detail %s: %w", inst.Symbol, err)
	}
	if resp.RtCd != "" && resp.RtCd != "0" {
		return market.MarketEvent{}, &APIError{Status: http.StatusOK, Code: resp.MsgCd, Message: resp.Msg1}
	}

	out := resp.Output
	last := parseNumber(out.Last)
	if last <= 0 {
		return market.MarketEvent{}, fmt.Errorf("%s: %w", inst.Symbol, ErrNoSnapshot)
	}
	high, low := parseNumber(out.High), parseNumber(out.Low)
	return market.MarketEvent{
		Code:     inst.NightCode,
		Symbol:   inst.Symbol,
		Source:   market.SourceSnapshot,
		Price:    last,
		High:     high,
		Low:      low,
		HasRange: high > 0 && low > 0,
		Volume:   parseNumber(out.TVol),
		Bid:      parseNumber(out.Bid),
		Ask:      parseNumber(out.Ask),
		Time:     time.Now(),
	}, nil
}

func parseNumber(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
