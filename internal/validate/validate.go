// SPDX-License-Identifier: MIT

// Package validate collects field-level problems in the daemon configuration
// so a single load reports all of them at once.
package validate

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Error is one rejected field.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError is the joined result of a Validator run.
type ValidationError struct {
	errors []Error
}

// Errors returns the rejected fields in the order they were checked.
func (e ValidationError) Errors() []Error { return e.errors }

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.errors))
	for _, fe := range e.errors {
		parts = append(parts, fe.Error())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validator accumulates problems. The zero value is ready to use.
type Validator struct {
	errs []Error
}

func New() *Validator { return &Validator{} }

func (v *Validator) AddError(field, message string, value any) {
	v.errs = append(v.errs, Error{Field: field, Value: value, Message: message})
}

func (v *Validator) addf(field string, value any, format string, args ...any) {
	v.AddError(field, fmt.Sprintf(format, args...), value)
}

func (v *Validator) IsValid() bool { return len(v.errs) == 0 }

// Err returns nil or a ValidationError holding a copy of what was collected.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return ValidationError{errors: slices.Clone(v.errs)}
}

func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "must not be empty", value)
	}
}

func (v *Validator) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.addf(field, value, "%q is not one of %s", value, strings.Join(allowed, ", "))
	}
}

// Unique reports every repeated occurrence of a value.
func (v *Validator) Unique(field string, values []string) {
	seen := make(map[string]bool, len(values))
	for _, s := range values {
		if seen[s] {
			v.addf(field, s, "%q is used more than once", s)
		}
		seen[s] = true
	}
}

func (v *Validator) Positive(field string, n int) {
	if n <= 0 {
		v.addf(field, n, "must be greater than zero, got %d", n)
	}
}

func (v *Validator) NonNegative(field string, n int) {
	if n < 0 {
		v.addf(field, n, "must not be negative, got %d", n)
	}
}

// Range checks lo <= n <= hi.
func (v *Validator) Range(field string, n, lo, hi int) {
	if n < lo || n > hi {
		v.addf(field, n, "must be within [%d, %d], got %d", lo, hi, n)
	}
}

func (v *Validator) PositiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.addf(field, d, "must be a positive duration, got %s", d)
	}
}

// URL requires an absolute URL with a host. An empty schemes list accepts
// any scheme.
func (v *Validator) URL(field, raw string, schemes []string) {
	if raw == "" {
		v.AddError(field, "must not be empty", raw)
		return
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		v.addf(field, raw, "not a URL: %v", err)
	case u.Host == "":
		v.AddError(field, "URL has no host", raw)
	case len(schemes) > 0 && !slices.Contains(schemes, u.Scheme):
		v.addf(field, raw, "scheme %q not allowed, want %s", u.Scheme, strings.Join(schemes, " or "))
	}
}

// ListenAddr requires host:port with a numeric port. The host may be empty.
func (v *Validator) ListenAddr(field, addr string) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		v.addf(field, addr, "not host:port: %v", err)
		return
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		v.addf(field, addr, "port %q is not a number in 0-65535", port)
	}
}

// Directory checks that path is a directory. Unless mustExist is set a
// missing directory is created.
func (v *Validator) Directory(field, path string, mustExist bool) {
	if path == "" {
		v.AddError(field, "must not be empty", path)
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		v.addf(field, path, "bad path: %v", err)
		return
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist) && mustExist:
		v.AddError(field, "directory does not exist", path)
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(abs, 0o750); err != nil {
			v.addf(field, path, "cannot create directory: %v", err)
		}
	case err != nil:
		v.addf(field, path, "cannot stat: %v", err)
	case !info.IsDir():
		v.AddError(field, "not a directory", path)
	}
}
