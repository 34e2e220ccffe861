// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/log"
	"github.com/rs/zerolog"
	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
)

const (
	defaultCastPort = "8009"
	discoveryPause  = 250 * time.Millisecond
)

// Discovery finds receivers on the LAN.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

type go2tvDiscovery struct{}

func (go2tvDiscovery) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (go2tvDiscovery) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

// ChromecastDialer opens Cast v2 sessions through go2tv. Devices without a
// configured address are looked up by name via mDNS discovery.
type ChromecastDialer struct {
	discovery        Discovery
	discoveryTimeout time.Duration
	loopCtx          context.Context
	once             sync.Once
	logger           zerolog.Logger
}

// NewChromecastDialer creates the production dialer. loopCtx bounds the
// background discovery loop.
func NewChromecastDialer(loopCtx context.Context, discoveryTimeout time.Duration) *ChromecastDialer {
	return newChromecastDialer(loopCtx, go2tvDiscovery{}, discoveryTimeout)
}

func newChromecastDialer(loopCtx context.Context, d Discovery, discoveryTimeout time.Duration) *ChromecastDialer {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	if discoveryTimeout <= 0 {
		discoveryTimeout = 3 * time.Second
	}
	return &ChromecastDialer{
		discovery:        d,
		discoveryTimeout: discoveryTimeout,
		loopCtx:          loopCtx,
		logger:           log.WithComponent("cast"),
	}
}

func (d *ChromecastDialer) Dial(ctx context.Context, dev config.DeviceConfig) (Transport, error) {
	addr := dev.Address
	if addr == "" {
		found, err := d.Resolve(ctx, dev.Name)
		if err != nil {
			return nil, err
		}
		addr = found
	}
	target, err := castURL(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, dev.Name, err)
	}
	client, err := castprotocol.NewCastClient(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, dev.Name, err)
	}
	return &chromecastTransport{client: client, name: dev.Name}, nil
}

// Resolve finds the address of the Chromecast named name.
func (d *ChromecastDialer) Resolve(ctx context.Context, name string) (string, error) {
	d.once.Do(func() {
		d.discovery.StartChromecastDiscoveryLoop(d.loopCtx)
	})

	deadline := time.Now().Add(d.discoveryTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w: %s: not discovered", ErrDeviceUnreachable, name)
		}
		delay := int(math.Ceil(remaining.Seconds()))

		var found []devices.Device
		err := callCtx(ctx, func() error {
			var lerr error
			found, lerr = d.discovery.LoadAllDevices(max(1, delay))
			return lerr
		})
		if err != nil && !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return "", fmt.Errorf("%w: discovery: %w", ErrDeviceUnreachable, err)
		}
		if addr, ok := matchDevice(found, name); ok {
			d.logger.Info().Str(log.FieldEvent, "cast.device_discovered").
				Str(log.FieldDevice, name).Str("addr", addr).Msg("device resolved by discovery")
			return addr, nil
		}
		if err := waitForBackoff(ctx, min(discoveryPause, time.Until(deadline))); err != nil {
			return "", err
		}
	}
}

func matchDevice(found []devices.Device, name string) (string, bool) {
	want := strings.TrimSpace(name)
	for _, exact := range []bool{true, false} {
		for _, dev := range found {
			if !strings.Contains(strings.ToLower(dev.Type), "chrome") {
				continue
			}
			got := strings.TrimSpace(dev.Name)
			if (exact && got == want) || (!exact && strings.EqualFold(got, want)) {
				return strings.TrimSpace(dev.Addr), true
			}
		}
	}
	return "", false
}

// castURL normalises host, host:port or a URL into the http://host:port form
// the cast client expects.
func castURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("empty address")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", addr)
	}
	port := u.Port()
	if port == "" {
		port = defaultCastPort
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// castClient is the part of the go2tv cast client a transport drives.
type castClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

var errTransportAborted = errors.New("connection aborted after a timed out call")

type chromecastTransport struct {
	client castClient
	name   string

	mu        sync.Mutex
	aborted   bool
	closeOnce sync.Once
	closeErr  error
}

func (t *chromecastTransport) Connect(ctx context.Context) error {
	return t.wrap(t.call(ctx, t.client.Connect))
}

func (t *chromecastTransport) Load(ctx context.Context, mediaURL, contentType string) error {
	return t.wrap(t.call(ctx, func() error {
		// Still images: no start offset, no duration, no subtitles, not live.
		return t.client.Load(mediaURL, contentType, 0, 0, "", false)
	}))
}

func (t *chromecastTransport) Status(ctx context.Context) (DeviceStatus, error) {
	var st *castprotocol.CastStatus
	err := t.call(ctx, func() error {
		var serr error
		st, serr = t.client.GetStatus()
		return serr
	})
	if err != nil {
		return DeviceStatus{}, t.wrap(err)
	}
	if st == nil {
		return DeviceStatus{}, nil
	}
	return DeviceStatus{PlayerState: st.PlayerState, ContentType: st.ContentType}, nil
}

func (t *chromecastTransport) Close() error {
	t.mu.Lock()
	aborted := t.aborted
	t.mu.Unlock()
	if aborted {
		return nil
	}
	t.close()
	return t.closeErr
}

func (t *chromecastTransport) close() {
	t.closeOnce.Do(func() { t.closeErr = t.client.Close(false) })
}

// call runs fn through callCtx. When ctx ends first the client is closed so
// the abandoned call returns, and every later call fails fast.
func (t *chromecastTransport) call(ctx context.Context, fn func() error) error {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		return errTransportAborted
	}
	t.mu.Unlock()

	err := callCtx(ctx, fn)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		t.mu.Lock()
		first := !t.aborted
		t.aborted = true
		t.mu.Unlock()
		if first {
			// The client lock may be held by the blocked call; close off the caller's path.
			go t.close()
		}
	}
	return err
}

func (t *chromecastTransport) wrap(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, t.name, err)
}

// callCtx runs a blocking call that has no context of its own. When ctx ends
// first the call is abandoned; its result is discarded.
func callCtx(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}
