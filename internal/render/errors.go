// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"errors"
	"fmt"

	"github.com/ManuGH/photocast/internal/catalog"
)

// ErrDecode marks content that could not be turned into an image.
var ErrDecode = errors.New("decode failed")

// Error describes a failed render of one asset.
type Error struct {
	Key catalog.Key
	Op  string // fetch, decode, encode
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.Key, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsDecode reports whether err is a content failure rather than a fetch failure.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode)
}
