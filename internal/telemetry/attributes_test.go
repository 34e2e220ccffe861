// SPDX-License-Identifier: MIT
package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestAssetAttributes(t *testing.T) {
	tests := []struct {
		name     string
		sourceID string
		path     string
		wantLen  int
	}{
		{name: "all fields", sourceID: "home", path: "2021/a.jpg", wantLen: 2},
		{name: "only source", sourceID: "home", wantLen: 1},
		{name: "no fields", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := AssetAttributes(tt.sourceID, tt.path)
			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.sourceID != "" {
				verifyAttribute(t, attrs, AssetSourceKey, tt.sourceID)
			}
			if tt.path != "" {
				verifyAttribute(t, attrs, AssetPathKey, tt.path)
			}
		})
	}
}

func TestCatalogAttributes(t *testing.T) {
	attrs := CatalogAttributes(7, 2, 1500)
	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}
	verifyInt64Attribute(t, attrs, CatalogGenerationKey, 7)
	verifyIntAttribute(t, attrs, CatalogSourcesKey, 2)
	verifyIntAttribute(t, attrs, CatalogAssetsKey, 1500)
}

func TestRenderAttributes(t *testing.T) {
	attrs := RenderAttributes("1920q88c", "rendered", 4096)
	verifyAttribute(t, attrs, RenderProfileKey, "1920q88c")
	verifyAttribute(t, attrs, RenderOutcomeKey, "rendered")
	verifyIntAttribute(t, attrs, RenderBytesKey, 4096)
}

func TestCastAttributes(t *testing.T) {
	attrs := CastAttributes("kitchen", 3, "http://host/frames/k.jpg")
	verifyAttribute(t, attrs, CastTargetKey, "kitchen")
	verifyIntAttribute(t, attrs, CastIndexKey, 3)
	verifyAttribute(t, attrs, CastURLKey, "http://host/frames/k.jpg")
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "decode")
	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if string(attr.Key) == ErrorKey && !attr.Value.AsBool() {
			t.Error("Expected error=true")
		}
	}
	verifyAttribute(t, attrs, ErrorTypeKey, "decode")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if got := attr.Value.AsString(); got != want {
				t.Errorf("Attribute %s = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want int) {
	t.Helper()
	verifyInt64Attribute(t, attrs, key, int64(want))
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, want int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if got := attr.Value.AsInt64(); got != want {
				t.Errorf("Attribute %s = %d, want %d", key, got, want)
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
