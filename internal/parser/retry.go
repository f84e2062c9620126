package parser

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

var ErrInvalidMaxAttempts = errors.New("maxAttempts must be > 0")

// ParseWithRetry calls p up to maxAttempts times with exponential backoff
// (baseDelay, 2*baseDelay, ...). A *ParseError is final and returned at once.
// When all attempts fail the last error is wrapped as PARSER_EXCEPTION.
func ParseWithRetry(ctx context.Context, p Parser, in Input, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) (*entity.Receipt, error) {
	if maxAttempts <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := p.Parse(ctx, in)
		if err == nil {
			if attempt > 1 {
				logger.Debug("parser.retry.ok", "file", in.FileName, "attempt", attempt)
			}
			return rec, nil
		}
		if _, ok := AsParseError(err); ok {
			return rec, err
		}
		lastErr = err
		logger.Warn("parser.retry.failed", "file", in.FileName, "attempt", attempt, "max_attempts", maxAttempts, "error", err)

		if attempt == maxAttempts {
			break
		}

		delay := baseDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, NewParseError(CodeParserException, lastErr.Error(), nil)
}
