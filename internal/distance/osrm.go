package distance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

const maxResponseBytes = 1 << 20

// errCallerGone marks calls abandoned by their caller. The router is not at fault.
var errCallerGone = errors.New("routing request abandoned by caller")

// BreakerConfig controls when the client stops calling a failing router.
type BreakerConfig struct {
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // closed-state count reset period, 0 = never
	Timeout          time.Duration // open -> half-open delay
	FailureThreshold uint32        // consecutive failures that open the breaker
}

// OSRMConfig configures an OSRM-compatible routing client.
type OSRMConfig struct {
	Endpoint  string
	Profile   string
	Timeout   time.Duration // per call
	RateLimit float64       // requests per second
	Burst     int
	Breaker   BreakerConfig
}

// OSRMClient calls the /route/v1 service of an OSRM-compatible router.
type OSRMClient struct {
	cfg     OSRMConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	log     *zap.Logger
}

var _ Provider = (*OSRMClient)(nil)

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

type routeResult struct {
	meters float64
	found  bool
}

// NewOSRMClient builds a client. A nil httpClient uses http.DefaultClient;
// metrics may be nil.
func NewOSRMClient(cfg OSRMConfig, httpClient *http.Client, metrics *observability.Metrics, logger *zap.Logger) *OSRMClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	c := &OSRMClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		metrics: metrics,
		log:     logger.Named("osrm"),
	}

	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "osrm",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.metrics.SetCircuitBreakerState(name, int(to))
			if to == gobreaker.StateOpen {
				c.metrics.RecordCircuitBreakerTrip(name)
			}
		},
	})
	return c
}

// DrivingDistance returns the road distance in meters.
func (c *OSRMClient) DrivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, error) {
	start := time.Now()
	meters, result, err := c.drivingDistance(ctx, from, to)
	c.metrics.RecordDistanceRequest(result, time.Since(start))
	return meters, err
}

func (c *OSRMClient) drivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, "canceled", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, from, to)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.log.Warn("Routing request shed by circuit breaker", zap.Error(err))
		return 0, "unavailable", fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	case errors.Is(err, errCallerGone):
		return 0, "canceled", err
	case errors.Is(err, ErrProviderTimeout):
		c.log.Warn("Routing request timed out",
			zap.Stringer("from", from), zap.Stringer("to", to), zap.Duration("timeout", c.cfg.Timeout))
		return 0, "timeout", fmt.Errorf("%w: %w", ErrRouteNotFound, err)
	case err != nil:
		return 0, "error", err
	}

	res := out.(routeResult)
	if !res.found {
		return 0, "not_found", fmt.Errorf("%s -> %s: %w", from, to, ErrRouteNotFound)
	}
	return res.meters, "ok", nil
}

// fetch performs one HTTP round trip. A missing route is a successful call
// from the breaker's point of view.
func (c *OSRMClient) fetch(ctx context.Context, from, to graphmodel.Coordinates) (routeResult, error) {
	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.routeURL(from, to), nil)
	if err != nil {
		return routeResult{}, fmt.Errorf("building routing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := callFailure(ctx, callCtx); ctxErr != nil {
			return routeResult{}, ctxErr
		}
		return routeResult{}, fmt.Errorf("routing request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := callFailure(ctx, callCtx); ctxErr != nil {
			return routeResult{}, ctxErr
		}
		return routeResult{}, fmt.Errorf("reading routing response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return routeResult{}, fmt.Errorf("routing provider returned status %d", resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return routeResult{}, fmt.Errorf("decoding routing response (status %d): %w", resp.StatusCode, err)
	}

	switch parsed.Code {
	case "Ok":
		if len(parsed.Routes) == 0 {
			return routeResult{}, nil
		}
		return routeResult{meters: parsed.Routes[0].Distance, found: true}, nil
	case "NoRoute", "NoSegment":
		return routeResult{}, nil
	default:
		return routeResult{}, fmt.Errorf("routing provider returned code %q: %s", parsed.Code, parsed.Message)
	}
}

// callFailure tells a caller that gave up apart from a router that ran out
// of its per-call budget. It returns nil when neither context ended.
func callFailure(ctx, callCtx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errCallerGone, err)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return ErrProviderTimeout
	}
	return nil
}

func (c *OSRMClient) routeURL(from, to graphmodel.Coordinates) string {
	return fmt.Sprintf("%s/route/v1/%s/%s,%s;%s,%s?overview=false",
		c.cfg.Endpoint, c.cfg.Profile,
		formatCoord(from.Longitude), formatCoord(from.Latitude),
		formatCoord(to.Longitude), formatCoord(to.Latitude),
	)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
