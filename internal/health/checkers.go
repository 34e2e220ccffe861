// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// PingChecker wraps a store's Ping. A nil ping means the store is not
// configured and reports healthy.
type PingChecker struct {
	name     string
	optional bool
	ping     func(ctx context.Context) error
}

// NewPingChecker returns a checker named name. When optional is set a failed
// ping degrades the daemon instead of taking it out of readiness.
func NewPingChecker(name string, optional bool, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, optional: optional, ping: ping}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if c.ping == nil {
		return CheckResult{Status: StatusHealthy, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		st := StatusUnhealthy
		if c.optional {
			st = StatusDegraded
		}
		return CheckResult{Status: st, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// IndexChecker tracks the catalog. Until the first generation exists the
// daemon has nothing to cast and is unhealthy.
type IndexChecker struct {
	lastIndex func() (created time.Time, lastError string)
	maxAge    time.Duration
}

// NewIndexChecker reads the current generation's creation time and the last
// reindex error from lastIndex. maxAge <= 0 turns off the staleness check.
func NewIndexChecker(lastIndex func() (time.Time, string), maxAge time.Duration) *IndexChecker {
	return &IndexChecker{lastIndex: lastIndex, maxAge: maxAge}
}

func (c *IndexChecker) Name() string { return "catalog" }

func (c *IndexChecker) Check(context.Context) CheckResult {
	created, lastErr := c.lastIndex()
	switch {
	case created.IsZero():
		return CheckResult{Status: StatusUnhealthy, Message: "no catalog generation yet", Error: lastErr}
	case lastErr != "":
		// The previous generation stays in service.
		return CheckResult{Status: StatusDegraded, Message: "last reindex failed", Error: lastErr}
	case c.maxAge > 0 && time.Since(created) > c.maxAge:
		return CheckResult{Status: StatusDegraded, Message: "catalog generation older than " + c.maxAge.String()}
	}
	return CheckResult{Status: StatusHealthy, Message: "catalog indexed"}
}
