package registry_test

import (
	"errors"
	"testing"

	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/registry"
)

func TestDefaultRegistryLookup(t *testing.T) {
	reg := registry.Default()

	jpeg, err := reg.Lookup("jpeg")
	if err != nil {
		t.Fatalf("Lookup(jpeg) failed: %v", err)
	}
	if !jpeg.SupportsQuality || jpeg.Extension() != "jpg" {
		t.Fatalf("unexpected jpeg descriptor: %+v", jpeg)
	}

	if _, err := reg.Lookup("heic"); !errors.Is(err, registry.ErrFormatNotFound) {
		t.Fatalf("expected ErrFormatNotFound, got %v", err)
	}
}

func TestRulesDeriveRouteAndOperation(t *testing.T) {
	reg := registry.Default()

	cases := []struct {
		source, target model.FormatID
		route          model.Route
		op             model.Operation
		quality        int
	}{
		{"jpeg", "jpeg", model.RouteRaster, model.OperationCompress, 85},
		{"jpeg", "png", model.RouteRaster, model.OperationConvert, 100},
		{"svg", "png", model.RouteVector, model.OperationConvert, 100},
		{"dng", "webp", model.RouteRaw, model.OperationConvert, 85},
	}
	for _, tc := range cases {
		rule, ok := reg.Rule(tc.source, tc.target)
		if !ok {
			t.Fatalf("missing rule %s->%s", tc.source, tc.target)
		}
		if rule.Route != tc.route || rule.Operation != tc.op || rule.DefaultQuality != tc.quality {
			t.Errorf("rule %s->%s = %+v", tc.source, tc.target, rule)
		}
	}
}

func TestRegistryIsNotCrossProduct(t *testing.T) {
	reg := registry.Default()

	invalid := [][2]model.FormatID{
		{"svg", "gif"},
		{"jpeg", "dng"},
		{"dng", "dng"},
		{"png", "svg"},
		{"jpeg", "bmp"},
	}
	for _, p := range invalid {
		if reg.IsValidPair(p[0], p[1]) {
			t.Errorf("pair %s->%s should not be legal", p[0], p[1])
		}
	}

	rule, ok := reg.Rule("svg", "jpeg")
	if !ok {
		t.Fatal("svg->jpeg should be legal")
	}
	if rule.Allows(model.AlgorithmMozJPEG) {
		t.Fatal("vector sources must not use mozjpeg")
	}
}

func TestListConversionsMatchesIsValidPair(t *testing.T) {
	reg := registry.Default()
	rules := reg.ListConversions()
	if len(rules) != len(registry.DefaultPairs) {
		t.Fatalf("ListConversions returned %d rules, want %d", len(rules), len(registry.DefaultPairs))
	}
	for _, r := range rules {
		if !reg.IsValidPair(r.Source, r.Target) {
			t.Errorf("listed rule %s->%s not valid", r.Source, r.Target)
		}
	}
}

func TestNewRejectsBrokenTables(t *testing.T) {
	formats := []registry.FormatDescriptor{{ID: "png", Category: model.CategoryRaster}}

	if _, err := registry.New(formats, []registry.Pair{{Source: "png", Target: "jpeg", Algorithms: []model.Algorithm{model.AlgorithmStandard}}}); err == nil {
		t.Fatal("expected error for unknown target")
	}
	if _, err := registry.New(formats, []registry.Pair{{Source: "png", Target: "png"}}); err == nil {
		t.Fatal("expected error for empty algorithm list")
	}
	if _, err := registry.New(append(formats, formats[0]), nil); err == nil {
		t.Fatal("expected error for duplicate format")
	}
}

func TestIdentify(t *testing.T) {
	reg := registry.Default()

	cases := []struct {
		mime, filename string
		want           model.FormatID
		ok             bool
	}{
		{"image/jpeg", "photo.jpg", "jpeg", true},
		{"image/png", "mislabelled.jpg", "png", true},
		{"image/tiff", "IMG_0001.CR2", "cr2", true},
		{"image/tiff", "scan.tif", "tiff", true},
		{"application/octet-stream", "shot.nef", "nef", true},
		{"text/xml; charset=utf-8", "drawing.svg", "svg", true},
		{"application/pdf", "doc.pdf", "", false},
	}
	for _, tc := range cases {
		got, ok := reg.Identify(tc.mime, tc.filename)
		if ok != tc.ok || got.ID != tc.want {
			t.Errorf("Identify(%q, %q) = %s, %v; want %s, %v", tc.mime, tc.filename, got.ID, ok, tc.want, tc.ok)
		}
	}
}
