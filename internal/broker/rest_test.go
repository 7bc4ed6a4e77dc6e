package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

type staticCreds struct {
	key, secret string
	err         error
}

func (s *staticCreds) Credentials(brokerID, caller string) (Credentials, error) {
	if s.err != nil {
		return Credentials{}, s.err
	}
	return Credentials{APIKey: s.key, APISecret: s.secret}, nil
}

func restBroker(t *testing.T, handler http.HandlerFunc, creds CredentialSource) *RESTBroker {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewRESTBroker(Config{
		ID:           "tradier",
		Mode:         ModeSandbox,
		AssetClasses: []AssetClass{AssetClassOption},
		BaseURL:      server.URL,
	}, creds)
}

func buyRequest() OrderRequest {
	return OrderRequest{
		OrderID:    "ord-1",
		Symbol:     "AAPL240920C00180000",
		AssetClass: AssetClassOption,
		Side:       SideBuy,
		Quantity:   10,
		Notional:   5_000,
		OrderType:  OrderTypeMarket,
	}
}

// TestSubmitOrder_Accepted tests the 2xx path including auth headers
func TestSubmitOrder_Accepted(t *testing.T) {
	var gotKey, gotSecret string
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotSecret = r.Header.Get("X-Api-Secret")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "bo-42", "status": "accepted"})
	}, &staticCreds{key: "k", secret: "s"})

	result, err := b.SubmitOrder(context.Background(), buyRequest())
	require.NoError(t, err)

	assert.Equal(t, SubmitAccepted, result.Status)
	assert.Equal(t, "bo-42", result.BrokerOrderID)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "s", gotSecret)
}

// TestSubmitOrder_BusinessRejection tests 4xx becoming Rejected, not an error
func TestSubmitOrder_BusinessRejection(t *testing.T) {
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "unknown symbol"})
	}, &staticCreds{})

	result, err := b.SubmitOrder(context.Background(), buyRequest())
	require.NoError(t, err, "business rejections never raise")

	assert.Equal(t, SubmitRejected, result.Status)
	assert.Equal(t, "unknown symbol", result.Reason)
}

// TestSubmitOrder_ServerFault tests 5xx becoming Unavailable
func TestSubmitOrder_ServerFault(t *testing.T) {
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, &staticCreds{})

	result, err := b.SubmitOrder(context.Background(), buyRequest())
	require.NoError(t, err)
	assert.Equal(t, SubmitUnavailable, result.Status)
}

// TestSubmitOrder_AuthFailure tests 401 surfacing as a transport error
func TestSubmitOrder_AuthFailure(t *testing.T) {
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, &staticCreds{})

	_, err := b.SubmitOrder(context.Background(), buyRequest())
	require.Error(t, err)
	assert.Equal(t, routererrors.CategoryTransport, routererrors.CategoryOf(err))
}

// TestSubmitOrder_VaultFailure tests credential faults propagating as vault errors
func TestSubmitOrder_VaultFailure(t *testing.T) {
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach the broker without credentials")
	}, &staticCreds{err: fmt.Errorf("vault sealed")})

	_, err := b.SubmitOrder(context.Background(), buyRequest())
	require.Error(t, err)
	assert.Equal(t, routererrors.CategoryVault, routererrors.CategoryOf(err))
}

// TestCancelOrder tests cancel against the REST surface
func TestCancelOrder(t *testing.T) {
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/orders/bo-42", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}, &staticCreds{})

	assert.NoError(t, b.CancelOrder(context.Background(), "bo-42"))
}

// TestGetAccountState tests account decoding
func TestGetAccountState(t *testing.T) {
	b := restBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account", r.URL.Path)
		json.NewEncoder(w).Encode(AccountState{
			Equity: 250_000,
			Cash:   100_000,
			Positions: []Position{
				{Symbol: "AAPL", Quantity: 100, MarketValue: 150_000, UnrealizedPnL: -2_000},
			},
		})
	}, &staticCreds{})

	state, err := b.GetAccountState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250_000.0, state.Equity)
	require.Len(t, state.Positions, 1)
	assert.Equal(t, "AAPL", state.Positions[0].Symbol)
}
