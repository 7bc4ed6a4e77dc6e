package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperBroker is an in-process simulator used for sandbox mode and tests.
// Orders fill immediately at the request's notional; account state tracks
// the resulting positions.
type PaperBroker struct {
	id      string
	classes []AssetClass

	mu        sync.Mutex
	cash      float64
	positions map[string]*Position
	orders    map[string]OrderRequest
}

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(id string, classes []AssetClass, startingCash float64) *PaperBroker {
	return &PaperBroker{
		id:        id,
		classes:   classes,
		cash:      startingCash,
		positions: make(map[string]*Position),
		orders:    make(map[string]OrderRequest),
	}
}

func (p *PaperBroker) ID() string                 { return p.id }
func (p *PaperBroker) Mode() Mode                 { return ModeSandbox }
func (p *PaperBroker) AssetClasses() []AssetClass { return p.classes }

// SubmitOrder fills the order immediately. Requests exceeding available
// cash come back as business rejections, mirroring how a real brokerage
// refuses rather than faults.
func (p *PaperBroker) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Quantity <= 0 {
		return SubmitResult{Status: SubmitRejected, Reason: "quantity must be positive"}, nil
	}
	if req.Side == SideBuy && req.Notional > p.cash {
		return SubmitResult{
			Status: SubmitRejected,
			Reason: fmt.Sprintf("insufficient cash: required %.2f, available %.2f", req.Notional, p.cash),
		}, nil
	}

	brokerOrderID := uuid.NewString()
	p.orders[brokerOrderID] = req

	pos, ok := p.positions[req.Symbol]
	if !ok {
		pos = &Position{Symbol: req.Symbol}
		p.positions[req.Symbol] = pos
	}

	price := 0.0
	if req.Quantity > 0 {
		price = req.Notional / req.Quantity
	}

	switch req.Side {
	case SideBuy:
		pos.AvgPrice = weightedAvg(pos.Quantity, pos.AvgPrice, req.Quantity, price)
		pos.Quantity += req.Quantity
		pos.MarketValue += req.Notional
		p.cash -= req.Notional
	case SideSell:
		pos.Quantity -= req.Quantity
		pos.MarketValue -= req.Notional
		p.cash += req.Notional
	}

	return SubmitResult{Status: SubmitAccepted, BrokerOrderID: brokerOrderID}, nil
}

// CancelOrder is a no-op for already-filled paper orders; unknown ids fail.
func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.orders[brokerOrderID]; !ok {
		return fmt.Errorf("order %s not found", brokerOrderID)
	}
	return nil
}

// GetAccountState returns the simulated account snapshot.
func (p *PaperBroker) GetAccountState(ctx context.Context) (*AccountState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := &AccountState{
		Cash: p.cash,
		AsOf: time.Now().UTC(),
	}
	state.Equity = p.cash
	for _, pos := range p.positions {
		if pos.Quantity == 0 {
			continue
		}
		state.Positions = append(state.Positions, *pos)
		state.Equity += pos.MarketValue
	}
	return state, nil
}

func weightedAvg(qtyA, priceA, qtyB, priceB float64) float64 {
	total := qtyA + qtyB
	if total == 0 {
		return 0
	}
	return (qtyA*priceA + qtyB*priceB) / total
}
