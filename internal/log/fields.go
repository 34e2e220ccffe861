// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldTargetID   = "target_id"
	FieldSourceID   = "source_id"
	FieldAssetID    = "asset_id"
	FieldPlaylistID = "playlist_id"
	FieldGeneration = "generation"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldDuration  = "duration_ms"

	// Cast fields
	FieldDevice   = "device"
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldIndex    = "index"

	// Path / URL fields
	FieldPath    = "path"
	FieldURL     = "url"
	FieldBaseURL = "base_url"
)
