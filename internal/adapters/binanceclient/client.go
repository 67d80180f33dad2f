// Package binanceclient implements the ports.ExchangeClient interface against
// Binance USD-M futures using the go-binance library.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	callTimeout   time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	CallTimeout time.Duration // Upper bound on any single API call
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		callTimeout:   callTimeout,
	}, nil
}

// withTimeout bounds a single API call. A call that outlives the window is
// a timeout with uncertain outcome, which the error mapping reflects.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// classifyOrderError translates transport and API failures into the order
// error taxonomy: deadline overruns become timeouts (uncertain outcome, safe
// to retry), everything else is a definitive rejection.
func (c *Client) classifyOrderError(ctx context.Context, err error, symbol, operation string) error {
	fields := map[string]interface{}{"operation": operation, "symbol": symbol, "originalError": err.Error()}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.logger.Warn(ctx, operation+" timed out, outcome uncertain", fields)
		return ports.NewOrderError(ports.OrderTimeout, symbol, err)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		c.logger.Error(ctx, err, operation+" rejected by exchange", fields)
		if apiErr.Code == -2019 || apiErr.Code == -3005 {
			// Margin / balance shortfall surfaces as the funds sentinel so the
			// caller's admission layer can recognize it.
			return ports.NewOrderError(ports.OrderRejected, symbol,
				fmt.Errorf("%w: %s", ports.ErrInsufficientFunds, apiErr.Message))
		}
		return ports.NewOrderError(ports.OrderRejected, symbol, err)
	}

	// Network-level failures: the request may not have reached the exchange,
	// treated the same as a timeout for retry purposes.
	c.logger.Warn(ctx, operation+" failed before a definitive answer", fields)
	return ports.NewOrderError(ports.OrderTimeout, symbol, err)
}

func translateOrderResult(order *futures.CreateOrderResponse) (*ports.OrderResult, error) {
	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("could not parse executed quantity %q: %w", order.ExecutedQuantity, err)
	}
	requested, err := decimal.NewFromString(order.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("could not parse requested quantity %q: %w", order.OrigQuantity, err)
	}
	avgPrice, err := decimal.NewFromString(order.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("could not parse average price %q: %w", order.AvgPrice, err)
	}

	var status ports.OrderStatus
	switch order.Status {
	case futures.OrderStatusTypeFilled:
		status = ports.OrderStatusFilled
	case futures.OrderStatusTypePartiallyFilled:
		status = ports.OrderStatusPartiallyFill
	default:
		status = ports.OrderStatusRejected
	}

	return &ports.OrderResult{
		OrderID:      fmt.Sprintf("%d", order.OrderID),
		Symbol:       order.Symbol,
		Side:         domain.OrderSide(order.Side),
		RequestedQty: requested,
		ExecutedQty:  executed,
		AvgPrice:     avgPrice,
		Status:       status,
		Timestamp:    time.UnixMilli(order.UpdateTime),
	}, nil
}

// PlaceOrder places a market order to open exposure, setting the symbol
// leverage first.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, leverage int) (*ports.OrderResult, error) {
	op := "PlaceOrder"
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(callCtx); err != nil {
		return nil, c.classifyOrderError(ctx, err, symbol, op+"/SetLeverage")
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(callCtx)
	if err != nil {
		return nil, c.classifyOrderError(ctx, err, symbol, op)
	}

	result, err := translateOrderResult(order)
	if err != nil {
		return nil, c.classifyOrderError(ctx, err, symbol, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity.String(),
		"orderID": result.OrderID, "avgPrice": result.AvgPrice.String(), "status": result.Status,
	})
	return result, nil
}

// CloseOrder places a reduce-only market order flattening the position.
func (c *Client) CloseOrder(ctx context.Context, positionRef, symbol string, side domain.OrderSide, quantity decimal.Decimal) (*ports.OrderResult, error) {
	op := "CloseOrder"
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(callCtx)
	if err != nil {
		return nil, c.classifyOrderError(ctx, err, symbol, op)
	}

	result, err := translateOrderResult(order)
	if err != nil {
		return nil, c.classifyOrderError(ctx, err, symbol, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"positionRef": positionRef, "symbol": symbol, "side": side,
		"quantity": quantity.String(), "orderID": result.OrderID, "avgPrice": result.AvgPrice.String(),
	})
	return result, nil
}

// GetCurrentPrice retrieves the current mark price for a symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetCurrentPrice"
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed for %s: %w", op, symbol, err)
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("%s: no price data returned for symbol %s", op, symbol)
	}

	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: could not parse price %q: %w", op, tickers[0].MarkPrice, err)
	}
	return price, nil
}

// GetLivePosition retrieves the exchange's view of open exposure on a symbol.
// Returns nil, nil when the exchange holds no position there.
func (c *Client) GetLivePosition(ctx context.Context, positionRef, symbol string) (*ports.LivePosition, error) {
	op := "GetLivePosition"
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	risks, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%s failed for %s: %w", op, symbol, err)
	}

	for _, risk := range risks {
		amt, err := decimal.NewFromString(risk.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("%s: could not parse position amount %q: %w", op, risk.PositionAmt, err)
		}
		if amt.IsZero() {
			continue
		}

		entry, err := decimal.NewFromString(risk.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("%s: could not parse entry price %q: %w", op, risk.EntryPrice, err)
		}
		mark, err := decimal.NewFromString(risk.MarkPrice)
		if err != nil {
			return nil, fmt.Errorf("%s: could not parse mark price %q: %w", op, risk.MarkPrice, err)
		}
		leverage, err := decimal.NewFromString(risk.Leverage)
		if err != nil {
			return nil, fmt.Errorf("%s: could not parse leverage %q: %w", op, risk.Leverage, err)
		}

		side := domain.Long
		if amt.IsNegative() {
			side = domain.Short
			amt = amt.Abs()
		}
		return &ports.LivePosition{
			Symbol:     symbol,
			Side:       side,
			Quantity:   amt,
			EntryPrice: entry,
			MarkPrice:  mark,
			Leverage:   int(leverage.IntPart()),
		}, nil
	}
	return nil, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.futuresClient.NewPingService().Do(callCtx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
