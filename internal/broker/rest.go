package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

// Credentials is the broker-facing view of a vault secret.
type Credentials struct {
	APIKey    string
	APISecret string
}

// CredentialSource supplies per-broker credentials at call time. A failure
// here surfaces as a vault error, which the coordinator treats like a
// transport fault and fails over.
type CredentialSource interface {
	Credentials(brokerID, caller string) (Credentials, error)
}

// RESTBroker talks to a JSON/HTTP brokerage back-end (equities- and
// options-style brokers such as alpaca or tradier expose this shape).
type RESTBroker struct {
	id      string
	mode    Mode
	classes []AssetClass
	baseURL string
	creds   CredentialSource
	client  *http.Client
}

// NewRESTBroker creates a REST adapter for one brokerage back-end.
func NewRESTBroker(cfg Config, creds CredentialSource) *RESTBroker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTBroker{
		id:      cfg.ID,
		mode:    cfg.Mode,
		classes: cfg.AssetClasses,
		baseURL: cfg.BaseURL,
		creds:   creds,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *RESTBroker) ID() string                 { return b.id }
func (b *RESTBroker) Mode() Mode                 { return b.mode }
func (b *RESTBroker) AssetClasses() []AssetClass { return b.classes }

type restOrderResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SubmitOrder posts the order to the broker. HTTP 4xx responses other than
// auth failures are business rejections; 5xx and transport faults are
// returned as errors for the coordinator to retry or fail over.
func (b *RESTBroker) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order", err)
	}

	httpReq, err := b.newRequest(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, err
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order", err)
	}
	defer resp.Body.Close()

	var decoded restOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode < 300 {
		return SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order",
			fmt.Errorf("malformed broker response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SubmitResult{Status: SubmitAccepted, BrokerOrderID: decoded.ID}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order",
			fmt.Errorf("authentication failed: status %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := decoded.Message
		if reason == "" {
			reason = fmt.Sprintf("broker rejected order: status %d", resp.StatusCode)
		}
		return SubmitResult{Status: SubmitRejected, Reason: reason}, nil
	default:
		return SubmitResult{
			Status: SubmitUnavailable,
			Reason: fmt.Sprintf("broker unavailable: status %d", resp.StatusCode),
		}, nil
	}
}

// CancelOrder cancels an open order at the broker.
func (b *RESTBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	httpReq, err := b.newRequest(ctx, http.MethodDelete, "/v1/orders/"+brokerOrderID, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return routererrors.NewTransportError(b.id, "cancel_order", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return routererrors.NewTransportError(b.id, "cancel_order",
			fmt.Errorf("cancel failed: status %d", resp.StatusCode))
	}
	return nil
}

// GetAccountState fetches the broker account snapshot.
func (b *RESTBroker) GetAccountState(ctx context.Context) (*AccountState, error) {
	httpReq, err := b.newRequest(ctx, http.MethodGet, "/v1/account", nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, routererrors.NewTransportError(b.id, "get_account_state", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, routererrors.NewTransportError(b.id, "get_account_state",
			fmt.Errorf("account fetch failed: status %d", resp.StatusCode))
	}

	var state AccountState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, routererrors.NewTransportError(b.id, "get_account_state",
			fmt.Errorf("malformed account response: %w", err))
	}
	return &state, nil
}

func (b *RESTBroker) newRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	creds, err := b.creds.Credentials(b.id, "broker."+b.id)
	if err != nil {
		return nil, routererrors.NewVaultError(b.id, "credentials", err)
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, b.baseURL+path, nil)
	}
	if err != nil {
		return nil, routererrors.NewTransportError(b.id, "new_request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", creds.APIKey)
	req.Header.Set("X-Api-Secret", creds.APISecret)
	return req, nil
}
