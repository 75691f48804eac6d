package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/retry"
)

// DefaultTimeout bounds a single completion attempt.
const DefaultTimeout = 120 * time.Second

// ResilientCompleter wraps a Completer with retry, backoff and a per-attempt timeout.
type ResilientCompleter struct {
	client      Completer
	retryConfig retry.RetryConfig
	timeout     time.Duration
}

// NewResilientCompleter creates a resilient wrapper. A zero timeout means DefaultTimeout.
func NewResilientCompleter(client Completer, config retry.RetryConfig, timeout time.Duration) *ResilientCompleter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ResilientCompleter{client: client, retryConfig: config, timeout: timeout}
}

// Complete calls the wrapped client until it succeeds, fails permanently, or retries run out.
// An empty completion is returned as-is; callers decide whether that is a failure.
func (rc *ResilientCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	logger := log.With().Str("model", req.Model).Logger()

	var out *Completion
	result := retry.Do(ctx, rc.retryConfig, &logger, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, rc.timeout)
		defer cancel()

		start := time.Now()
		resp, err := rc.client.Complete(attemptCtx, req)
		if err != nil {
			return err
		}
		logger.Debug().
			Dur("latency", time.Since(start)).
			Int("input_tokens", resp.InputTokens).
			Int("output_tokens", resp.OutputTokens).
			Msg("completion received")
		out = resp
		return nil
	})

	if !result.Success {
		logger.Warn().
			Int("attempts", result.Attempts).
			Str("reasons", strings.Join(result.RetryReasons, "; ")).
			Msg("completion failed")
		return nil, result.LastError
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	return out, nil
}
