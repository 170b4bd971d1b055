package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/metrics"
)

// ModelResponse is the outcome of one gateway call. Transport failures
// are reported in-band: Success is false and Error holds the last
// failure, so callers can treat a dead model as a missing vote instead
// of a fatal condition.
type ModelResponse struct {
	ModelID    string
	Content    string
	TokenCount int
	Latency    time.Duration
	Success    bool
	Error      string
}

// Call describes one completion request addressed by model id.
type Call struct {
	ModelID     string
	Messages    []adapter.Message
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Route binds a model id to a concrete adapter and provider model name.
type Route struct {
	Adapter adapter.Adapter
	Model   string
}

// RetryConfig controls transport retry behavior.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig mirrors the provider limits we run against.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Gateway provides a uniform call surface over registered model routes.
type Gateway struct {
	routes  map[string]Route
	retry   RetryConfig
	timeout time.Duration
	log     zerolog.Logger
	rec     *metrics.Recorder
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(g *Gateway) { g.rec = rec }
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// WithDefaultTimeout sets the per-call timeout used when Call.Timeout is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// New creates a gateway over the given model routes.
func New(routes map[string]Route, opts ...Option) *Gateway {
	g := &Gateway{
		routes:  routes,
		retry:   DefaultRetryConfig(),
		timeout: 60 * time.Second,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Models returns the registered model ids.
func (g *Gateway) Models() []string {
	ids := make([]string, 0, len(g.routes))
	for id := range g.routes {
		ids = append(ids, id)
	}
	return ids
}

// Complete runs one call through its route, retrying transient transport
// failures with exponential backoff. It never returns an error: after
// retry exhaustion the failure is carried in the ModelResponse.
func (g *Gateway) Complete(ctx context.Context, call Call) ModelResponse {
	route, ok := g.routes[call.ModelID]
	if !ok {
		return ModelResponse{
			ModelID: call.ModelID,
			Error:   fmt.Sprintf("model %s not registered", call.ModelID),
		}
	}

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}

	req := adapter.Request{
		Messages:    call.Messages,
		Temperature: call.Temperature,
		MaxTokens:   call.MaxTokens,
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		resp, err := g.completeOnce(ctx, route, req, timeout)
		if err == nil {
			latency := time.Since(start)
			g.rec.RecordModelCall(call.ModelID, "ok")
			g.rec.RecordCallLatency(call.ModelID, latency.Seconds())
			g.log.Debug().
				Str("model", call.ModelID).
				Int("attempt", attempt).
				Dur("latency", latency).
				Int("tokens", resp.Usage.TotalTokens).
				Msg("model call completed")
			return ModelResponse{
				ModelID:    call.ModelID,
				Content:    resp.Content,
				TokenCount: resp.Usage.TotalTokens,
				Latency:    latency,
				Success:    true,
			}
		}

		lastErr = err
		if !adapter.Retryable(err) || attempt == g.retry.MaxRetries {
			break
		}

		g.rec.RecordTransportRetry(call.ModelID)
		backoff := computeBackoff(g.retry.BaseDelay, g.retry.MaxDelay, attempt)
		g.log.Debug().
			Str("model", call.ModelID).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("transient transport failure, retrying")
		if err := sleepWithContext(ctx, backoff); err != nil {
			lastErr = err
			break
		}
	}

	latency := time.Since(start)
	g.rec.RecordModelCall(call.ModelID, "error")
	g.log.Warn().
		Str("model", call.ModelID).
		Dur("latency", latency).
		Err(lastErr).
		Msg("model call failed after retries")

	return ModelResponse{
		ModelID: call.ModelID,
		Latency: latency,
		Error:   lastErr.Error(),
	}
}

func (g *Gateway) completeOnce(ctx context.Context, route Route, req adapter.Request, timeout time.Duration) (*adapter.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return route.Adapter.Complete(callCtx, route.Model, req)
}

func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
