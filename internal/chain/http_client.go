package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumo-chat/lumo_pay/internal/fees"
)

// HTTPClient talks to a node's JSON gateway. Responses are classified so
// callers can tell a retryable outage from a transaction the network will
// never accept.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a client for the node gateway at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FeeConditions fetches the network's current fee quote.
func (c *HTTPClient) FeeConditions(ctx context.Context, network string) (fees.Conditions, error) {
	var out struct {
		Model       string `json:"model"`
		UnitPrice   int64  `json:"unit_price"`
		BaseFee     int64  `json:"base_fee"`
		PriorityFee int64  `json:"priority_fee"`
	}
	path := "/v1/fees?network=" + url.QueryEscape(network)
	if err := c.get(ctx, path, &out); err != nil {
		return fees.Conditions{}, err
	}
	return fees.Conditions{
		Model:       out.Model,
		UnitPrice:   out.UnitPrice,
		BaseFee:     out.BaseFee,
		PriorityFee: out.PriorityFee,
	}, nil
}

// ObservedSequence fetches the next sequence the network expects from an
// address.
func (c *HTTPClient) ObservedSequence(ctx context.Context, network, address string) (uint64, error) {
	var out struct {
		Sequence uint64 `json:"sequence"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/sequence?network=%s", url.PathEscape(address), url.QueryEscape(network))
	if err := c.get(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Sequence, nil
}

// Submit broadcasts a signed transaction and returns its hash.
func (c *HTTPClient) Submit(ctx context.Context, network string, raw []byte) (string, error) {
	body, err := json.Marshal(map[string]string{
		"network": network,
		"raw":     base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode submission: %v", ErrPermanent, err)
	}

	var out struct {
		Hash string `json:"hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

// TxStatus fetches the network's current view of a transaction.
func (c *HTTPClient) TxStatus(ctx context.Context, network, hash string) (Status, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v1/transactions/%s?network=%s", url.PathEscape(hash), url.QueryEscape(network))
	if err := c.get(ctx, path, &out); err != nil {
		return StatusPending, err
	}
	switch s := Status(out.Status); s {
	case StatusPending, StatusIncluded, StatusFinalized, StatusRejected:
		return s, nil
	default:
		return StatusPending, fmt.Errorf("%w: unknown status %q", ErrTransient, out.Status)
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := ErrPermanent
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			kind = ErrTransient
		}
		return fmt.Errorf("%w: node returned %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransient, err)
	}
	return nil
}
