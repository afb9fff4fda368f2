package taskengine

import (
	"context"
	"math"
	"time"

	"github.com/lordbasex/dbopscore/classify"
)

// RunContext is handed to an Operation: it carries cancellation and a
// progress reporter bound to the owning task.
type RunContext struct {
	context.Context
	report func(Progress)
}

// Report publishes a progress update for the running task. stage must be
// one of the Stage constants; the compiler enforces this by type, not by
// runtime validation.
func (rc *RunContext) Report(percent float64, stage Stage, message string) {
	if rc.report == nil {
		return
	}
	rc.report(Progress{Percent: percent, Stage: stage, Message: message, UpdatedAt: time.Now()})
}

// runWithRecovery attempts op up to policy.RetryCount+1 times, retrying
// only when the classifier flags the failure retryable, then makes one
// further attempt with FallbackParams merged in if every retry attempt
// failed and a fallback is configured.
func runWithRecovery(rc *RunContext, op Operation, params map[string]any, policy *RecoveryPolicy) RecoveryResult {
	if policy == nil {
		policy = &RecoveryPolicy{}
	}

	attempts := 0
	var lastErr error

	maxAttempts := policy.RetryCount + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		v, err := op(rc, params)
		if err == nil {
			recovery := ""
			if attempt > 1 {
				recovery = "retry succeeded"
			}
			return RecoveryResult{Value: v, AttemptsUsed: attempts, RecoveryApplied: recovery}
		}
		lastErr = err

		rec := classify.Classify(err, nil)
		if !rec.Retryable || attempt == maxAttempts {
			break
		}

		delay := policy.RetryDelay
		if policy.ExponentialBackoff {
			delay = time.Duration(float64(policy.RetryDelay) * math.Pow(2, float64(attempt-1)))
		}
		if delay > 0 {
			select {
			case <-rc.Context.Done():
				return RecoveryResult{AttemptsUsed: attempts, Err: rc.Context.Err()}
			case <-time.After(delay):
			}
		}
	}

	if policy.FallbackParams != nil {
		attempts++
		merged := make(map[string]any, len(params)+len(policy.FallbackParams))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range policy.FallbackParams {
			merged[k] = v
		}
		v, err := op(rc, merged)
		if err == nil {
			return RecoveryResult{Value: v, AttemptsUsed: attempts, RecoveryApplied: "fallback succeeded"}
		}
		lastErr = err
	}

	return RecoveryResult{AttemptsUsed: attempts, Err: lastErr}
}
