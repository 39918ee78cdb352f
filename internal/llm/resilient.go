package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcpharvest/internal/logging"
	"github.com/mcpharvest/internal/retry"
)

// Policy controls how ResilientModel calls its backend.
type Policy struct {
	Retry             retry.RetryConfig
	Timeout           time.Duration // per attempt
	RequestsPerSecond float64       // 0 disables the limiter
	Burst             int
}

// DefaultPolicy returns the gateway defaults: 3 attempts, 30s per attempt, no rate limit.
func DefaultPolicy() Policy {
	return Policy{
		Retry:   retry.GatewayRetryConfig(),
		Timeout: 30 * time.Second,
		Burst:   1,
	}
}

// ResilientModel wraps a backend with per-attempt timeouts, an optional rate
// limiter and exponential-backoff retries. Failures come back as *GatewayError.
type ResilientModel struct {
	model   Model
	policy  Policy
	limiter *rate.Limiter
}

// NewResilientModel wraps model with policy.
func NewResilientModel(model Model, policy Policy) *ResilientModel {
	rm := &ResilientModel{model: model, policy: policy}
	if policy.RequestsPerSecond > 0 {
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		rm.limiter = rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), burst)
	}
	return rm
}

// Name returns the wrapped backend's name.
func (m *ResilientModel) Name() string {
	return m.model.Name()
}

// Complete calls the backend until it succeeds, hits a non-retryable error or
// runs out of attempts.
func (m *ResilientModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	runLog := logging.GetCurrentLogger()

	result := retry.RetryWithBackoffAndReason(ctx, m.policy.Retry, func() (error, string) {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err), "rate_limiter"
			}
		}

		out, err := m.attempt(ctx, req)
		if err != nil {
			kind := Classify(err)
			if kind == KindAuth {
				err = retry.Permanent(err)
			}
			log.Warn().
				Err(err).
				Str("backend", m.model.Name()).
				Str("model", req.Model).
				Str("kind", string(kind)).
				Msg("Model call failed")
			return err, string(kind)
		}

		resp = out
		return nil, "success"
	}, runLog)

	if result.Success {
		log.Debug().
			Str("backend", m.model.Name()).
			Str("model", resp.Model).
			Int("attempts", result.Attempts).
			Int("input_tokens", resp.InputTokens).
			Int("output_tokens", resp.OutputTokens).
			Msg("Model call succeeded")
		return resp, nil
	}

	return nil, &GatewayError{
		Backend:     m.model.Name(),
		Kind:        Classify(result.LastError),
		Attempts:    result.Attempts,
		MaxAttempts: m.policy.Retry.MaxRetries + 1,
		Permanent:   result.Permanent,
		Err:         result.LastError,
	}
}

func (m *ResilientModel) attempt(ctx context.Context, req Request) (*Response, error) {
	if m.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.Timeout)
		defer cancel()
	}

	out, err := m.model.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("backend returned no response")
	}
	return out, nil
}
