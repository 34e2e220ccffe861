// SPDX-License-Identifier: MIT

package daemon

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

var (
	ErrMissingLogger     = errors.New("daemon: logger is required")
	ErrMissingAPIHandler = errors.New("daemon: API handler is required")
	ErrMissingManager    = errors.New("daemon: manager is required")
	ErrMissingEngine     = errors.New("daemon: engine is required")

	// ErrManagerNotStarted is returned by Shutdown before Start was called.
	ErrManagerNotStarted = errors.New("daemon: manager not started")
)

// Deps is what the Manager serves. The photocast handler tree and the
// Prometheus handler are built in cmd/daemon and handed in here.
type Deps struct {
	Logger         zerolog.Logger
	APIHandler     http.Handler // control surface, frames, probes
	MetricsHandler http.Handler // optional

	// MetricsAddr is where MetricsHandler listens. Empty keeps it off.
	MetricsAddr string
}

// Validate rejects a disabled logger and a missing API handler.
func (d *Deps) Validate() error {
	switch {
	case d.Logger.GetLevel() == zerolog.Disabled:
		return ErrMissingLogger
	case d.APIHandler == nil:
		return ErrMissingAPIHandler
	}
	return nil
}
