// Package broker defines the opaque outbound broker interface and its
// one concrete HTTP-backed implementation.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

// Margins is the broker's margin snapshot.
type Margins struct {
	Cash       decimal.Decimal
	Available  decimal.Decimal
	Used       decimal.Decimal
	Collateral decimal.Decimal
}

// HistoricalDataRequest parameterizes a getHistoricalData call.
type HistoricalDataRequest struct {
	InstrumentToken int64
	Interval        string
	From, To        string
}

// Gateway is the opaque outbound interface to the broker. Every
// implementation is expected to apply its own I/O timeout; callers must
// not block the event-processing goroutine on it.
type Gateway interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest, tag string) (domain.Order, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetMargins(ctx context.Context) (Margins, error)
	GetOrderMargin(ctx context.Context, req domain.OrderRequest) (decimal.Decimal, error)
	GetBasketMargin(ctx context.Context, reqs []domain.OrderRequest) (decimal.Decimal, error)
	GetPositions(ctx context.Context) (map[string][]domain.Position, error)
	GetHistoricalData(ctx context.Context, req HistoricalDataRequest) ([]domain.Bar, error)
}
