package upstream

import (
	"context"
	"time"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
)

const (
	maxAttempts       = 3
	initialRetryDelay = 1 * time.Second
	backoffMultiplier = 2
)

// CompleteWithRetry wraps Complete with the retry policy from spec.md §4.A:
// up to 3 attempts, exponential backoff starting at 1s, retrying only
// RateLimited/Timeout/Network/Server classifications. Fatal and protocol
// errors return immediately; context cancellation aborts the loop.
func (c *Client) CompleteWithRetry(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int) (string, consensustypes.Usage, error) {
	classifier := consensuserrors.NewErrorClassifier()
	delay := initialRetryDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		answer, usage, err := c.Complete(ctx, model, messages, temperature, maxTokens)
		if err == nil {
			return answer, usage, nil
		}
		lastErr = err

		if !classifier.IsRetryable(err) || attempt == maxAttempts {
			return "", consensustypes.Usage{}, err
		}

		select {
		case <-ctx.Done():
			return "", consensustypes.Usage{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= backoffMultiplier
	}
	return "", consensustypes.Usage{}, lastErr
}
