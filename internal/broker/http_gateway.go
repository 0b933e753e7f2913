package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/resilience"
)

// HTTPGatewayConfig configures the one concrete broker HTTP client.
type HTTPGatewayConfig struct {
	BaseURL    string
	APIKey     string
	AccessTok  string
	Timeout    time.Duration
	BreakerCfg resilience.Config
}

// HTTPGateway implements Gateway against a REST broker API, with every
// outbound call wrapped in a circuit breaker so a degraded broker session
// fails fast instead of piling up timeouts behind the next order.
type HTTPGateway struct {
	client  *resty.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPGateway builds an HTTPGateway from config.
func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("X-Api-Key", cfg.APIKey).
		SetAuthToken(cfg.AccessTok).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	breakerCfg := cfg.BreakerCfg
	if breakerCfg.Name == "" {
		breakerCfg = resilience.DefaultConfig("broker-gateway")
	}

	return &HTTPGateway{client: client, breaker: resilience.New(breakerCfg)}
}

func (g *HTTPGateway) call(ctx context.Context, fn func() (any, error)) (any, error) {
	return g.breaker.ExecuteWithContext(ctx, fn)
}

type placeOrderResponse struct {
	BrokerOrderID string `json:"broker_order_id"`
	Status        string `json:"status"`
}

// PlaceOrder submits one order with a correlation tag for broker-side
// order linking.
func (g *HTTPGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest, tag string) (domain.Order, error) {
	out, err := g.call(ctx, func() (any, error) {
		resp := &placeOrderResponse{}
		r, err := g.client.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"instrument_token": req.InstrumentToken,
				"trading_symbol":   req.TradingSymbol,
				"exchange":         req.Exchange,
				"side":             string(req.Side),
				"order_type":       string(req.OrderType),
				"product":          req.ProductCode,
				"quantity":         req.Quantity,
				"price":            req.Price,
				"trigger_price":    req.TriggerPrice,
				"tag":              tag,
			}).
			SetResult(resp).
			Post("/orders")
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker rejected order: %s", r.String())
		}
		return resp, nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	resp := out.(*placeOrderResponse)
	now := time.Now().UTC()
	return domain.Order{
		BrokerOrderID: resp.BrokerOrderID,
		Request:       req,
		Status:        domain.OrderStatus(resp.Status),
		PlacedAt:      now,
		UpdatedAt:     now,
	}, nil
}

// CancelOrder cancels a previously placed order.
func (g *HTTPGateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := g.call(ctx, func() (any, error) {
		r, err := g.client.R().SetContext(ctx).Delete("/orders/" + brokerOrderID)
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker rejected cancel: %s", r.String())
		}
		return nil, nil
	})
	return err
}

type marginsResponse struct {
	Cash       decimal.Decimal `json:"cash"`
	Available  decimal.Decimal `json:"available"`
	Used       decimal.Decimal `json:"used"`
	Collateral decimal.Decimal `json:"collateral"`
}

// GetMargins returns the account-level margin snapshot.
func (g *HTTPGateway) GetMargins(ctx context.Context) (Margins, error) {
	out, err := g.call(ctx, func() (any, error) {
		resp := &marginsResponse{}
		r, err := g.client.R().SetContext(ctx).SetResult(resp).Get("/margins")
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker margins error: %s", r.String())
		}
		return resp, nil
	})
	if err != nil {
		return Margins{}, err
	}
	resp := out.(*marginsResponse)
	return Margins(*resp), nil
}

type marginResponse struct {
	Margin decimal.Decimal `json:"margin"`
}

// GetOrderMargin returns the margin required for a single prospective order.
func (g *HTTPGateway) GetOrderMargin(ctx context.Context, req domain.OrderRequest) (decimal.Decimal, error) {
	out, err := g.call(ctx, func() (any, error) {
		resp := &marginResponse{}
		r, err := g.client.R().SetContext(ctx).SetBody(req).SetResult(resp).Post("/margins/order")
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker order-margin error: %s", r.String())
		}
		return resp, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out.(*marginResponse).Margin, nil
}

// GetBasketMargin returns the margin required for a basket of prospective
// orders, accounting for offsetting positions.
func (g *HTTPGateway) GetBasketMargin(ctx context.Context, reqs []domain.OrderRequest) (decimal.Decimal, error) {
	out, err := g.call(ctx, func() (any, error) {
		resp := &marginResponse{}
		r, err := g.client.R().SetContext(ctx).SetBody(map[string]any{"orders": reqs}).SetResult(resp).Post("/margins/basket")
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker basket-margin error: %s", r.String())
		}
		return resp, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out.(*marginResponse).Margin, nil
}

type positionsResponse struct {
	Net []domain.Position `json:"net"`
}

// GetPositions returns the broker's current position book.
func (g *HTTPGateway) GetPositions(ctx context.Context) (map[string][]domain.Position, error) {
	out, err := g.call(ctx, func() (any, error) {
		resp := &positionsResponse{}
		r, err := g.client.R().SetContext(ctx).SetResult(resp).Get("/positions")
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker positions error: %s", r.String())
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*positionsResponse)
	return map[string][]domain.Position{"net": resp.Net}, nil
}

// GetHistoricalData is a stub per spec.md: the broker market-data feed is
// assumed, not reimplemented here.
func (g *HTTPGateway) GetHistoricalData(ctx context.Context, req HistoricalDataRequest) ([]domain.Bar, error) {
	out, err := g.call(ctx, func() (any, error) {
		var bars []domain.Bar
		r, err := g.client.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"instrument_token": fmt.Sprintf("%d", req.InstrumentToken),
				"interval":         req.Interval,
				"from":             req.From,
				"to":               req.To,
			}).
			SetResult(&bars).
			Get("/historical-data")
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			return nil, fmt.Errorf("broker historical-data error: %s", r.String())
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.Bar), nil
}

var _ Gateway = (*HTTPGateway)(nil)
