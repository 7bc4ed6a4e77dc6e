package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/tradewerk/broker-router/internal/broker"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

// Common Bybit retCodes the adapter cares about.
const (
	retCodeInvalidAPIKey     = 10003
	retCodeInvalidSignature  = 10004
	retCodeRateLimitExceeded = 10006
	retCodeSystemBusy        = 10016
)

// Broker adapts the Bybit v5 unified trading API to the router's broker
// capability interface. It covers the crypto asset class.
type Broker struct {
	id      string
	mode    broker.Mode
	classes []broker.AssetClass
	creds   broker.CredentialSource

	mu     sync.Mutex
	client *bybit_api.Client
}

// New creates a Bybit adapter. The SDK client is built lazily on first use
// so a vault failure surfaces per call and forces failover rather than
// aborting startup.
func New(cfg broker.Config, creds broker.CredentialSource) *Broker {
	classes := cfg.AssetClasses
	if len(classes) == 0 {
		classes = []broker.AssetClass{broker.AssetClassCrypto}
	}
	return &Broker{
		id:      cfg.ID,
		mode:    cfg.Mode,
		classes: classes,
		creds:   creds,
	}
}

func (b *Broker) ID() string                        { return b.id }
func (b *Broker) Mode() broker.Mode                 { return b.mode }
func (b *Broker) AssetClasses() []broker.AssetClass { return b.classes }

// apiClient returns the SDK client, constructing it from vault credentials
// on first use.
func (b *Broker) apiClient() (*bybit_api.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	creds, err := b.creds.Credentials(b.id, "broker."+b.id)
	if err != nil {
		return nil, routererrors.NewVaultError(b.id, "credentials", err)
	}

	baseURL := bybit_api.MAINNET
	if b.mode == broker.ModeSandbox {
		baseURL = bybit_api.TESTNET
	}

	b.client = bybit_api.NewBybitHttpClient(
		creds.APIKey,
		creds.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)
	return b.client, nil
}

// SubmitOrder places an order through the unified trading API.
func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.SubmitResult, error) {
	client, err := b.apiClient()
	if err != nil {
		return broker.SubmitResult{}, err
	}

	params := map[string]interface{}{
		"category":    "spot",
		"symbol":      req.Symbol,
		"side":        sideOf(req.Side),
		"orderType":   orderTypeOf(req.OrderType),
		"qty":         strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"orderLinkId": req.OrderID,
	}
	if req.OrderType == broker.OrderTypeLimit {
		params["price"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	}

	resp, err := client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return broker.SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order", err)
	}

	return b.mapSubmitResponse(resp)
}

// mapSubmitResponse translates a Bybit retCode into the router's submit
// taxonomy: rate limits and maintenance are Unavailable, auth failures are
// transport faults, anything else nonzero is a business rejection.
func (b *Broker) mapSubmitResponse(resp *bybit_api.ServerResponse) (broker.SubmitResult, error) {
	switch {
	case resp.RetCode == 0:
		orderID, err := parseOrderID(resp.Result)
		if err != nil {
			return broker.SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order", err)
		}
		return broker.SubmitResult{Status: broker.SubmitAccepted, BrokerOrderID: orderID}, nil
	case resp.RetCode == retCodeRateLimitExceeded || resp.RetCode == retCodeSystemBusy:
		return broker.SubmitResult{
			Status: broker.SubmitUnavailable,
			Reason: fmt.Sprintf("bybit busy: %s (code %d)", resp.RetMsg, resp.RetCode),
		}, nil
	case resp.RetCode == retCodeInvalidAPIKey || resp.RetCode == retCodeInvalidSignature:
		return broker.SubmitResult{}, routererrors.NewTransportError(b.id, "submit_order",
			fmt.Errorf("authentication failed: %s (code %d)", resp.RetMsg, resp.RetCode))
	default:
		return broker.SubmitResult{
			Status: broker.SubmitRejected,
			Reason: fmt.Sprintf("%s (code %d)", resp.RetMsg, resp.RetCode),
		}, nil
	}
}

// CancelOrder cancels an open order by broker order id.
func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	client, err := b.apiClient()
	if err != nil {
		return err
	}

	params := map[string]interface{}{
		"category": "spot",
		"orderId":  brokerOrderID,
	}

	resp, err := client.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return routererrors.NewTransportError(b.id, "cancel_order", err)
	}

	if resp.RetCode != 0 {
		return routererrors.NewTransportError(b.id, "cancel_order",
			fmt.Errorf("cancel failed: %s (code %d)", resp.RetMsg, resp.RetCode))
	}
	return nil
}

// GetAccountState reads the unified wallet balance.
func (b *Broker) GetAccountState(ctx context.Context) (*broker.AccountState, error) {
	client, err := b.apiClient()
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{"accountType": "UNIFIED"}
	resp, err := client.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, routererrors.NewTransportError(b.id, "get_account_state", err)
	}

	if resp.RetCode != 0 {
		return nil, routererrors.NewTransportError(b.id, "get_account_state",
			fmt.Errorf("wallet fetch failed: %s (code %d)", resp.RetMsg, resp.RetCode))
	}

	return parseWallet(resp.Result)
}

func sideOf(s broker.Side) string {
	if s == broker.SideSell {
		return "Sell"
	}
	return "Buy"
}

func orderTypeOf(t broker.OrderType) string {
	if t == broker.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func parseOrderID(result interface{}) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	var decoded struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to parse order result: %w", err)
	}
	if decoded.OrderID == "" {
		return "", fmt.Errorf("order result missing orderId")
	}
	return decoded.OrderID, nil
}

func parseWallet(result interface{}) (*broker.AccountState, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var decoded struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse wallet result: %w", err)
	}
	if len(decoded.List) == 0 {
		return nil, fmt.Errorf("wallet result is empty")
	}

	equity, _ := strconv.ParseFloat(decoded.List[0].TotalEquity, 64)
	cash, _ := strconv.ParseFloat(decoded.List[0].TotalAvailableBalance, 64)

	return &broker.AccountState{
		Equity: equity,
		Cash:   cash,
		AsOf:   time.Now().UTC(),
	}, nil
}
