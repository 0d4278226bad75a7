// Package policy turns a loose conversion request into effective, codec-safe
// settings or a typed rejection. The resolver is a pure function of its input
// and the registry: it fails closed and never coerces an invalid combination
// into a nearby valid one.
package policy

import (
	"fmt"

	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/registry"
)

const (
	MinQuality = 10
	MaxQuality = 100

	// losslessQuality is the quality recorded for targets without a quality knob.
	losslessQuality = 100
)

// Request is the user's intent for one source file.
type Request struct {
	SourceFormat    model.FormatID
	TargetFormat    model.FormatID // empty or keep-original resolves to the source
	Algorithm       model.Algorithm
	Quality         int // 0 selects the rule default
	Resize          model.ResizePolicy
	WebOptimization model.WebOptimization
	SourceSize      int64
	MaxFileSize     int64 // tier ceiling, 0 = none
}

// Resolver validates requests against a registry.
type Resolver struct {
	registry *registry.Registry
}

// New creates a Resolver over reg.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{registry: reg}
}

// Resolve validates req and computes the effective settings.
func (r *Resolver) Resolve(req Request) (model.Settings, error) {
	source, err := r.registry.Lookup(req.SourceFormat)
	if err != nil {
		return model.Settings{}, &InvalidConversionError{Source: req.SourceFormat, Target: req.TargetFormat}
	}

	targetID := req.TargetFormat
	if targetID == "" || targetID == model.KeepOriginal {
		targetID = source.ID
	}

	rule, ok := r.registry.Rule(source.ID, targetID)
	if !ok {
		return model.Settings{}, &InvalidConversionError{Source: source.ID, Target: targetID}
	}
	target, err := r.registry.Lookup(targetID)
	if err != nil {
		return model.Settings{}, &InvalidConversionError{Source: source.ID, Target: targetID}
	}

	if limit := sizeLimit(source.MaxSize, req.MaxFileSize); limit > 0 && req.SourceSize > limit {
		return model.Settings{}, &FileTooLargeError{Format: source.ID, Size: req.SourceSize, Limit: limit}
	}
	if req.SourceSize <= 0 {
		return model.Settings{}, &InvalidSettingsError{Field: "file", Reason: "file is empty"}
	}

	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = rule.DefaultAlgorithm()
	}
	if !rule.Allows(algorithm) {
		return model.Settings{}, &UnsupportedAlgorithmError{Algorithm: algorithm, Target: target.ID, Allowed: rule.Algorithms}
	}

	quality, err := resolveQuality(req.Quality, target, rule)
	if err != nil {
		return model.Settings{}, err
	}

	resize, err := resolveResize(req.Resize, target)
	if err != nil {
		return model.Settings{}, err
	}

	web := req.WebOptimization
	if web == "" {
		web = model.WebOptimizationNone
	}
	if _, ok := model.ParseWebOptimization(string(web)); !ok {
		return model.Settings{}, &InvalidSettingsError{Field: "webOptimization", Reason: fmt.Sprintf("unknown mode %q", web)}
	}

	return model.Settings{
		SourceFormat:    source.ID,
		TargetFormat:    target.ID,
		Operation:       rule.Operation,
		Route:           rule.Route,
		Quality:         quality,
		Algorithm:       algorithm,
		Resize:          resize,
		WebOptimization: web,
	}, nil
}

func sizeLimit(formatMax, tierMax int64) int64 {
	switch {
	case formatMax <= 0:
		return tierMax
	case tierMax <= 0:
		return formatMax
	case tierMax < formatMax:
		return tierMax
	default:
		return formatMax
	}
}

func resolveQuality(requested int, target registry.FormatDescriptor, rule registry.ConversionRule) (int, error) {
	if requested != 0 && (requested < MinQuality || requested > MaxQuality) {
		return 0, &InvalidSettingsError{
			Field:  "quality",
			Reason: fmt.Sprintf("must be between %d and %d", MinQuality, MaxQuality),
		}
	}
	if !target.SupportsQuality {
		return losslessQuality, nil
	}
	if requested == 0 {
		return rule.DefaultQuality, nil
	}
	return requested, nil
}

func resolveResize(p model.ResizePolicy, target registry.FormatDescriptor) (model.ResizePolicy, error) {
	switch p.Mode {
	case "", model.ResizeNone:
		return model.ResizePolicy{Mode: model.ResizeNone}, nil
	case model.ResizePercentage:
		if p.Value < 1 || p.Value > 100 {
			return model.ResizePolicy{}, &InvalidSettingsError{Field: "resizeOption", Reason: "percentage must be between 1 and 100"}
		}
	case model.ResizeMaxDimension:
		if p.Value < 1 {
			return model.ResizePolicy{}, &InvalidSettingsError{Field: "resizeOption", Reason: "max dimension must be positive"}
		}
	default:
		return model.ResizePolicy{}, &InvalidSettingsError{Field: "resizeOption", Reason: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	if !target.SupportsResize {
		return model.ResizePolicy{}, &InvalidSettingsError{Field: "resizeOption", Reason: fmt.Sprintf("%s output cannot be resized", target.ID)}
	}
	return p, nil
}
