// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"context"
	"errors"

	"github.com/ManuGH/photocast/internal/config"
)

// ErrDeviceUnreachable wraps every failure talking to a device.
var ErrDeviceUnreachable = errors.New("device unreachable")

// DeviceStatus is the part of the receiver status a session looks at.
type DeviceStatus struct {
	PlayerState string
	ContentType string
}

// Transport is an open control channel to one receiver. Calls block until the
// device answers or ctx ends.
type Transport interface {
	Connect(ctx context.Context) error
	Load(ctx context.Context, url, contentType string) error
	Status(ctx context.Context) (DeviceStatus, error)
	Close() error
}

// Dialer creates transports for configured devices.
type Dialer interface {
	Dial(ctx context.Context, dev config.DeviceConfig) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, dev config.DeviceConfig) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, dev config.DeviceConfig) (Transport, error) {
	return f(ctx, dev)
}
