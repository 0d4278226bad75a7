// Package registry holds the static capability metadata for every supported
// image format and the enumerated list of legal conversions between them.
//
// A Registry is immutable once built; every lookup is a map access.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// ErrFormatNotFound is returned when a format id is not registered.
var ErrFormatNotFound = errors.New("format not found")

// FormatDescriptor describes one format's constraints and capabilities.
type FormatDescriptor struct {
	ID              model.FormatID `json:"id"`
	Category        model.Category `json:"category"`
	Extensions      []string       `json:"extensions"` // lowercase, without dot; first is canonical
	MIMETypes       []string       `json:"mime_types"`
	MaxSize         int64          `json:"max_size"`
	SupportsQuality bool           `json:"supports_quality"`
	SupportsResize  bool           `json:"supports_resize"`
}

// Extension returns the canonical file extension without the dot.
func (d FormatDescriptor) Extension() string {
	if len(d.Extensions) == 0 {
		return string(d.ID)
	}
	return d.Extensions[0]
}

// ConversionRule is one legal (source, target) pair.
type ConversionRule struct {
	Source         model.FormatID    `json:"source"`
	Target         model.FormatID    `json:"target"`
	Operation      model.Operation   `json:"operation"`
	DefaultQuality int               `json:"default_quality"`
	Algorithms     []model.Algorithm `json:"algorithms"` // first is the default
	Route          model.Route       `json:"route"`
}

// Allows reports whether the algorithm is on the rule's allow-list.
func (r ConversionRule) Allows(a model.Algorithm) bool {
	for _, allowed := range r.Algorithms {
		if allowed == a {
			return true
		}
	}
	return false
}

// DefaultAlgorithm returns the algorithm used when the request names none.
func (r ConversionRule) DefaultAlgorithm() model.Algorithm {
	if len(r.Algorithms) == 0 {
		return model.AlgorithmStandard
	}
	return r.Algorithms[0]
}

type pair struct {
	source model.FormatID
	target model.FormatID
}

// Registry answers format and conversion queries.
type Registry struct {
	formats map[model.FormatID]FormatDescriptor
	byExt   map[string]model.FormatID
	byMIME  map[string]model.FormatID
	rules   map[pair]ConversionRule
	ordered []ConversionRule
	ids     []model.FormatID
}

// New builds a registry from format descriptors and explicit conversion pairs.
// Routes and default qualities are derived here so the tables cannot contradict them.
func New(formats []FormatDescriptor, pairs []Pair) (*Registry, error) {
	r := &Registry{
		formats: make(map[model.FormatID]FormatDescriptor, len(formats)),
		byExt:   make(map[string]model.FormatID),
		byMIME:  make(map[string]model.FormatID),
		rules:   make(map[pair]ConversionRule, len(pairs)),
	}

	for _, f := range formats {
		if f.ID == "" || f.ID == model.KeepOriginal {
			return nil, fmt.Errorf("registry: invalid format id %q", f.ID)
		}
		if _, dup := r.formats[f.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate format %q", f.ID)
		}
		r.formats[f.ID] = f
		r.ids = append(r.ids, f.ID)
		for _, ext := range f.Extensions {
			r.byExt[strings.ToLower(ext)] = f.ID
		}
		for _, m := range f.MIMETypes {
			r.byMIME[strings.ToLower(m)] = f.ID
		}
	}

	for _, p := range pairs {
		src, ok := r.formats[p.Source]
		if !ok {
			return nil, fmt.Errorf("registry: rule %s->%s: unknown source", p.Source, p.Target)
		}
		dst, ok := r.formats[p.Target]
		if !ok {
			return nil, fmt.Errorf("registry: rule %s->%s: unknown target", p.Source, p.Target)
		}
		if len(p.Algorithms) == 0 {
			return nil, fmt.Errorf("registry: rule %s->%s: empty algorithm list", p.Source, p.Target)
		}
		key := pair{source: p.Source, target: p.Target}
		if _, dup := r.rules[key]; dup {
			return nil, fmt.Errorf("registry: duplicate rule %s->%s", p.Source, p.Target)
		}

		rule := ConversionRule{
			Source:         p.Source,
			Target:         p.Target,
			Operation:      model.OperationConvert,
			DefaultQuality: 100,
			Algorithms:     append([]model.Algorithm(nil), p.Algorithms...),
			Route:          routeFor(src.Category),
		}
		if p.Source == p.Target {
			rule.Operation = model.OperationCompress
		}
		if dst.SupportsQuality {
			rule.DefaultQuality = 85
		}
		r.rules[key] = rule
		r.ordered = append(r.ordered, rule)
	}

	return r, nil
}

// MustNew is New that panics on an invalid table.
func MustNew(formats []FormatDescriptor, pairs []Pair) *Registry {
	r, err := New(formats, pairs)
	if err != nil {
		panic(err)
	}
	return r
}

func routeFor(c model.Category) model.Route {
	switch c {
	case model.CategoryRaw:
		return model.RouteRaw
	case model.CategoryVector:
		return model.RouteVector
	default:
		return model.RouteRaster
	}
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id model.FormatID) (FormatDescriptor, error) {
	f, ok := r.formats[id]
	if !ok {
		return FormatDescriptor{}, fmt.Errorf("%w: %s", ErrFormatNotFound, id)
	}
	return f, nil
}

// IsValidPair reports whether converting source into target is legal.
func (r *Registry) IsValidPair(source, target model.FormatID) bool {
	_, ok := r.rules[pair{source: source, target: target}]
	return ok
}

// Rule returns the conversion rule for a pair.
func (r *Registry) Rule(source, target model.FormatID) (ConversionRule, bool) {
	rule, ok := r.rules[pair{source: source, target: target}]
	return rule, ok
}

// ListConversions returns every legal conversion in table order.
func (r *Registry) ListConversions() []ConversionRule {
	out := make([]ConversionRule, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Formats returns every registered descriptor in table order.
func (r *Registry) Formats() []FormatDescriptor {
	out := make([]FormatDescriptor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.formats[id])
	}
	return out
}

// ByExtension finds a format by file extension, with or without the dot.
func (r *Registry) ByExtension(ext string) (FormatDescriptor, bool) {
	id, ok := r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	if !ok {
		return FormatDescriptor{}, false
	}
	return r.formats[id], true
}

// ByMIME finds a format by MIME type. Parameters after ';' are ignored.
func (r *Registry) ByMIME(mimeType string) (FormatDescriptor, bool) {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	id, ok := r.byMIME[strings.ToLower(strings.TrimSpace(mimeType))]
	if !ok {
		return FormatDescriptor{}, false
	}
	return r.formats[id], true
}

// Identify resolves the format of an upload from its sniffed MIME type and filename.
//
// Camera RAW files are TIFF containers and sniff as image/tiff, so a raw
// extension wins over a TIFF MIME type. Otherwise the sniffed type wins and the
// extension is only a fallback.
func (r *Registry) Identify(mimeType, filename string) (FormatDescriptor, bool) {
	byExt, extOK := r.ByExtension(filepath.Ext(filename))
	byMIME, mimeOK := r.ByMIME(mimeType)

	switch {
	case extOK && byExt.Category == model.CategoryRaw && (!mimeOK || byMIME.ID == "tiff"):
		return byExt, true
	case mimeOK:
		return byMIME, true
	case extOK:
		return byExt, true
	default:
		return FormatDescriptor{}, false
	}
}
