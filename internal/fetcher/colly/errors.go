package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// networkReason maps a transport failure to the reason stored in history.
func networkReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return "robots_disallowed"
	case errors.Is(err, colly.ErrMissingURL):
		return "invalid_url"
	case strings.Contains(err.Error(), "rate limit wait"):
		return "rate_limit_wait"
	case errors.Is(err, context.DeadlineExceeded):
		return "network_error:timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "network_error:timeout"
	case strings.Contains(err.Error(), "tls: "):
		return "network_error:tls"
	case strings.Contains(err.Error(), "no such host"):
		return "network_error:dns"
	case strings.Contains(err.Error(), "connection refused"):
		return "network_error:connection_refused"
	default:
		return "network_error:connection"
	}
}

func outcomeLabel(err error) string {
	var fetchErr *tracker.FetchError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tracker.ErrNotPublic):
		return "not_public"
	case errors.As(err, &fetchErr) && strings.HasPrefix(fetchErr.Reason, "bad_status"):
		return "bad_status"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "network_error"
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
