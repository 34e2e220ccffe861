// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"context"
	"time"
)

// BackoffConfig bounds reconnect delays.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

// NextBackoffDelay returns the delay before reconnect attempt n (1-based):
// initial * 2^(n-1), capped at Max.
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.Initial <= 0 {
		return 0
	}
	delay := cfg.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cfg.Max > 0 && delay >= cfg.Max {
			return cfg.Max
		}
	}
	if cfg.Max > 0 && delay > cfg.Max {
		return cfg.Max
	}
	return delay
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
