package bybit

import (
	"testing"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewerk/broker-router/internal/broker"
	routererrors "github.com/tradewerk/broker-router/internal/errors"
)

func testBroker() *Broker {
	return New(broker.Config{ID: "bybit", Mode: broker.ModeSandbox}, nil)
}

// TestMapSubmitResponse_Accepted tests retCode 0 with an order id
func TestMapSubmitResponse_Accepted(t *testing.T) {
	b := testBroker()

	result, err := b.mapSubmitResponse(&bybit_api.ServerResponse{
		RetCode: 0,
		Result:  map[string]interface{}{"orderId": "1523347543495541248"},
	})

	require.NoError(t, err)
	assert.Equal(t, broker.SubmitAccepted, result.Status)
	assert.Equal(t, "1523347543495541248", result.BrokerOrderID)
}

// TestMapSubmitResponse_MissingOrderID tests retCode 0 without an order id
func TestMapSubmitResponse_MissingOrderID(t *testing.T) {
	b := testBroker()

	_, err := b.mapSubmitResponse(&bybit_api.ServerResponse{
		RetCode: 0,
		Result:  map[string]interface{}{},
	})

	require.Error(t, err)
	assert.Equal(t, routererrors.CategoryTransport, routererrors.CategoryOf(err))
}

// TestMapSubmitResponse_BusyIsUnavailable tests rate limit and maintenance codes
func TestMapSubmitResponse_BusyIsUnavailable(t *testing.T) {
	b := testBroker()

	for _, code := range []int{retCodeRateLimitExceeded, retCodeSystemBusy} {
		result, err := b.mapSubmitResponse(&bybit_api.ServerResponse{
			RetCode: code,
			RetMsg:  "Too many visits",
		})

		require.NoError(t, err)
		assert.Equal(t, broker.SubmitUnavailable, result.Status)
		assert.Contains(t, result.Reason, "Too many visits")
	}
}

// TestMapSubmitResponse_AuthFailureIsTransport tests bad key and bad signature codes
func TestMapSubmitResponse_AuthFailureIsTransport(t *testing.T) {
	b := testBroker()

	for _, code := range []int{retCodeInvalidAPIKey, retCodeInvalidSignature} {
		_, err := b.mapSubmitResponse(&bybit_api.ServerResponse{
			RetCode: code,
			RetMsg:  "API key is invalid",
		})

		require.Error(t, err)
		assert.Equal(t, routererrors.CategoryTransport, routererrors.CategoryOf(err))
	}
}

// TestMapSubmitResponse_OtherCodesReject tests that unknown nonzero codes are rejections
func TestMapSubmitResponse_OtherCodesReject(t *testing.T) {
	b := testBroker()

	result, err := b.mapSubmitResponse(&bybit_api.ServerResponse{
		RetCode: 170131,
		RetMsg:  "Insufficient balance",
	})

	require.NoError(t, err)
	assert.Equal(t, broker.SubmitRejected, result.Status)
	assert.Contains(t, result.Reason, "Insufficient balance")
	assert.Contains(t, result.Reason, "170131")
}

// TestParseWallet tests decoding the unified wallet payload
func TestParseWallet(t *testing.T) {
	state, err := parseWallet(map[string]interface{}{
		"list": []map[string]interface{}{
			{"totalEquity": "15234.50", "totalAvailableBalance": "1200.25"},
		},
	})

	require.NoError(t, err)
	assert.InDelta(t, 15234.50, state.Equity, 1e-9)
	assert.InDelta(t, 1200.25, state.Cash, 1e-9)
}

// TestParseWallet_Empty tests the empty wallet list error
func TestParseWallet_Empty(t *testing.T) {
	_, err := parseWallet(map[string]interface{}{"list": []map[string]interface{}{}})
	assert.Error(t, err)
}

// TestNew_DefaultsToCrypto tests the asset class default
func TestNew_DefaultsToCrypto(t *testing.T) {
	b := testBroker()
	assert.Equal(t, []broker.AssetClass{broker.AssetClassCrypto}, b.AssetClasses())
	assert.Equal(t, "bybit", b.ID())
}
