package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatID identifies an image format in the registry (e.g. "jpeg", "webp", "dng").
type FormatID string

// KeepOriginal is the requested target that resolves to the source format.
const KeepOriginal FormatID = "keep-original"

// Category groups formats by how they must be decoded.
type Category string

const (
	CategoryRaster Category = "raster"
	CategoryVector Category = "vector"
	CategoryRaw    Category = "raw"
)

// Route is the decode path implied by the source category.
type Route string

const (
	RouteRaster Route = "raster"
	RouteVector Route = "vector"
	RouteRaw    Route = "raw"
)

// Operation is the kind of work a conversion rule performs.
type Operation string

const (
	OperationConvert  Operation = "convert"
	OperationCompress Operation = "compress-in-place"
)

// Algorithm selects the encoder used for the target format.
type Algorithm string

const (
	AlgorithmStandard       Algorithm = "standard"
	AlgorithmMozJPEG        Algorithm = "mozjpeg"
	AlgorithmLossless       Algorithm = "lossless"
	AlgorithmMaxCompression Algorithm = "max-compression"
)

// WebOptimization selects post-decode metadata and scan handling.
type WebOptimization string

const (
	WebOptimizationNone          WebOptimization = "none"
	WebOptimizationStripMetadata WebOptimization = "strip-metadata"
	WebOptimizationProgressive   WebOptimization = "progressive"
	WebOptimizationOptimizeScans WebOptimization = "optimize-scans"
)

// ParseWebOptimization converts a request value into a WebOptimization.
// The empty string maps to WebOptimizationNone.
func ParseWebOptimization(value string) (WebOptimization, bool) {
	switch w := WebOptimization(strings.ToLower(strings.TrimSpace(value))); w {
	case "":
		return WebOptimizationNone, true
	case WebOptimizationNone, WebOptimizationStripMetadata, WebOptimizationProgressive, WebOptimizationOptimizeScans:
		return w, true
	default:
		return "", false
	}
}

// StripsMetadata reports whether metadata must be dropped for this mode.
// Progressive and scan-optimized output are web targets and strip metadata as well.
func (w WebOptimization) StripsMetadata() bool {
	return w != WebOptimizationNone && w != ""
}

// ResizeMode selects how ResizePolicy.Value is interpreted.
type ResizeMode string

const (
	ResizeNone         ResizeMode = "none"
	ResizePercentage   ResizeMode = "percentage"
	ResizeMaxDimension ResizeMode = "max-dimension"
)

// ResizePolicy describes the optional resize step.
type ResizePolicy struct {
	Mode  ResizeMode `json:"mode"`
	Value int        `json:"value,omitempty"`
	// IgnoreAspect forces both sides to Value for max-dimension resizes.
	IgnoreAspect bool `json:"ignore_aspect,omitempty"`
}

// Active reports whether the policy changes pixel dimensions.
func (r ResizePolicy) Active() bool {
	return r.Mode != ResizeNone && r.Mode != "" && r.Value > 0
}

// resizeOptions is the closed set of resize options accepted from clients.
var resizeOptions = map[string]ResizePolicy{
	"none":     {Mode: ResizeNone},
	"75%":      {Mode: ResizePercentage, Value: 75},
	"50%":      {Mode: ResizePercentage, Value: 50},
	"25%":      {Mode: ResizePercentage, Value: 25},
	"max-3840": {Mode: ResizeMaxDimension, Value: 3840},
	"max-2560": {Mode: ResizeMaxDimension, Value: 2560},
	"max-1920": {Mode: ResizeMaxDimension, Value: 1920},
	"max-1280": {Mode: ResizeMaxDimension, Value: 1280},
	"max-800":  {Mode: ResizeMaxDimension, Value: 800},
}

// ParseResizeOption converts a client resize option into a ResizePolicy.
// The empty string means no resize.
func ParseResizeOption(option string) (ResizePolicy, error) {
	option = strings.ToLower(strings.TrimSpace(option))
	if option == "" {
		return ResizePolicy{Mode: ResizeNone}, nil
	}
	if p, ok := resizeOptions[option]; ok {
		return p, nil
	}
	return ResizePolicy{}, fmt.Errorf("unknown resize option %q", option)
}

// String renders the policy the way clients submit it.
func (r ResizePolicy) String() string {
	switch r.Mode {
	case ResizePercentage:
		return strconv.Itoa(r.Value) + "%"
	case ResizeMaxDimension:
		return "max-" + strconv.Itoa(r.Value)
	default:
		return "none"
	}
}

// Settings is the effective, codec-safe settings snapshot stored on every job.
// It is produced only by the policy resolver.
type Settings struct {
	SourceFormat    FormatID        `json:"source_format"`
	TargetFormat    FormatID        `json:"target_format"`
	Operation       Operation       `json:"operation"`
	Route           Route           `json:"route"`
	Quality         int             `json:"quality"`
	Algorithm       Algorithm       `json:"algorithm"`
	Resize          ResizePolicy    `json:"resize"`
	WebOptimization WebOptimization `json:"web_optimization"`
}
