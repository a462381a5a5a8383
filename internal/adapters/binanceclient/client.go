// Package binanceclient adapts the Binance spot API to the execution, data feed
// and equity ports.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"trendbot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	defaultRequestTimeout = 10 * time.Second
)

// Client implements ports.ExecutionAdapter and ports.QuantityNormalizer on top of
// the go-binance spot client.
type Client struct {
	spot                 *binance.Client
	logger               ports.Logger
	limiter              *rate.Limiter
	timeout              time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	mu    sync.Mutex
	rules map[string]*symbolRules
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	RequestTimeout       time.Duration // bounds every REST call
	RequestsPerSecond    float64       // client-side REST budget; 0 selects 10
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	// websocket endpoints follow the package-level switch
	binance.UseTestnet = cfg.UseTestnet
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		spot:                 client,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		timeout:              timeout,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		rules:                make(map[string]*symbolRules),
	}, nil
}

// begin waits for the REST budget and returns a context bounded by the request timeout.
// On error the caller's context is returned unchanged.
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ctx, func() {}, fmt.Errorf("rate limiter: %w: %w", ports.ErrRateLimited, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPIError(apiErr)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, ports.ErrRateLimited) {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	} else if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// mapAPIError maps spot API error codes to port sentinels.
func mapAPIError(apiErr *common.APIError) error {
	msg := strings.ToUpper(apiErr.Message)
	switch apiErr.Code {
	case -1001: // Internal error; unable to process your request
		return ports.ErrExchangeUnavailable
	case -1003, -1015: // Too many requests / too many new orders
		return ports.ErrRateLimited
	case -1007: // Timeout waiting for response from backend server
		return ports.ErrTimeout
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1013: // Filter failure
		if strings.Contains(msg, "NOTIONAL") {
			return ports.ErrNotionalTooSmall
		}
		return ports.ErrInvalidRequest
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1114, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		if strings.Contains(msg, "INSUFFICIENT BALANCE") {
			return ports.ErrInsufficientFunds
		}
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		if strings.Contains(msg, "UNKNOWN ORDER") {
			return ports.ErrOrderNotFound
		}
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	default:
		return ports.ErrUnknown
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	defer cancel()
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	defer cancel()
	serverTimeMs, err := c.spot.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// ClockSkew reports how far the local clock runs ahead of the exchange, using
// the midpoint of the round trip. Signed requests fail with -1021 once it
// exceeds the receive window.
func (c *Client) ClockSkew(ctx context.Context) (time.Duration, error) {
	sent := time.Now()
	server, err := c.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}
	return clockSkew(sent, time.Now(), server), nil
}

func clockSkew(sent, received, server time.Time) time.Duration {
	return sent.Add(received.Sub(sent) / 2).Sub(server)
}

// GetTickerPrice retrieves the last traded price for symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	defer cancel()
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := parseFloat("price", prices[0].Price)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	return price, nil
}
