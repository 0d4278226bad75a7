// Package tier supplies per-identity size and rate ceilings. Billing owns the
// real assignment of tiers; this package only maps a tier name to its limits.
package tier

import "strings"

// Free is the tier assumed for anonymous sessions and unknown tier names.
const Free = "free"

// Limits bounds what one identity on a tier may do.
type Limits struct {
	MaxFileSize int64 `mapstructure:"max_file_size"` // bytes, 0 = only the format ceiling applies
	Hourly      int   `mapstructure:"hourly"`        // operations per hour, 0 = unlimited
	Daily       int   `mapstructure:"daily"`         // operations per day, 0 = unlimited
	Monthly     int   `mapstructure:"monthly"`       // operations per month, 0 = unlimited
}

// StaticProvider serves tier limits from configuration.
type StaticProvider struct {
	tiers map[string]Limits
}

// NewStaticProvider creates a provider over the given tier table.
// A "free" entry is added with zero limits if the table does not define one.
func NewStaticProvider(tiers map[string]Limits) *StaticProvider {
	t := make(map[string]Limits, len(tiers)+1)
	for name, l := range tiers {
		t[strings.ToLower(name)] = l
	}
	if _, ok := t[Free]; !ok {
		t[Free] = Limits{}
	}
	return &StaticProvider{tiers: t}
}

// Limits returns the limits of the named tier, falling back to the free tier.
func (p *StaticProvider) Limits(name string) Limits {
	if l, ok := p.tiers[strings.ToLower(strings.TrimSpace(name))]; ok {
		return l
	}
	return p.tiers[Free]
}

// Known reports whether the tier name is configured.
func (p *StaticProvider) Known(name string) bool {
	_, ok := p.tiers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
