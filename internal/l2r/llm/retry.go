package llm

import (
	"context"
	"log/slog"

	"github.com/bdobrica/l2r/common/retry"
	"github.com/bdobrica/l2r/common/trace"
)

type retrying struct {
	Provider
	policy retry.Policy
}

// WithRetry wraps p so that transient failures (429, 5xx) are retried under
// policy. Other errors are returned immediately.
func WithRetry(p Provider, policy retry.Policy) Provider {
	policy.ShouldRetry = IsTransient
	return &retrying{Provider: p, policy: policy}
}

func (r *retrying) Complete(ctx context.Context, req Request) (string, error) {
	var out string
	attempt := 0
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		var err error
		out, err = r.Provider.Complete(ctx, req)
		if err != nil && IsTransient(err) {
			slog.Warn("llm: transient provider error",
				"provider", r.Name(), "attempt", attempt,
				"trace_id", trace.FromContext(ctx), "err", err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
