// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Asset attributes
	AssetSourceKey = "asset.source"
	AssetPathKey   = "asset.path"

	// Catalog attributes
	CatalogGenerationKey = "catalog.generation"
	CatalogSourcesKey    = "catalog.sources"
	CatalogAssetsKey     = "catalog.assets"

	// Render attributes
	RenderProfileKey = "render.profile"
	RenderOutcomeKey = "render.outcome"
	RenderBytesKey   = "render.bytes"

	// Cast attributes
	CastTargetKey = "cast.target"
	CastIndexKey  = "cast.index"
	CastURLKey    = "cast.url"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// AssetAttributes identifies an asset on a span.
func AssetAttributes(sourceID, path string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if sourceID != "" {
		attrs = append(attrs, attribute.String(AssetSourceKey, sourceID))
	}
	if path != "" {
		attrs = append(attrs, attribute.String(AssetPathKey, path))
	}
	return attrs
}

// CatalogAttributes describes a reindex pass.
func CatalogAttributes(generation uint64, sources, assets int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(CatalogGenerationKey, int64(generation)),
		attribute.Int(CatalogSourcesKey, sources),
		attribute.Int(CatalogAssetsKey, assets),
	}
}

// RenderAttributes describes one produced frame.
func RenderAttributes(profile, outcome string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RenderProfileKey, profile),
		attribute.String(RenderOutcomeKey, outcome),
		attribute.Int(RenderBytesKey, size),
	}
}

// CastAttributes describes a push to a device.
func CastAttributes(target string, index int, url string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CastTargetKey, target),
		attribute.Int(CastIndexKey, index),
		attribute.String(CastURLKey, url),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
