package registry

import (
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/profile"
	"codefolio-backend/internal/scrapers"
	"codefolio-backend/internal/scrapers/codechef"
	"codefolio-backend/internal/scrapers/codeforces"
	"codefolio-backend/internal/scrapers/gfg"
	"codefolio-backend/internal/scrapers/hackerrank"
	"codefolio-backend/internal/scrapers/leetcode"
	"fmt"
)

// Options overrides the endpoints of individual platforms, zero values keep
// the public defaults.
type Options struct {
	LeetCode   leetcode.Options
	Codeforces codeforces.Options
	GFG        gfg.Options
	CodeChef   codechef.Options
	HackerRank hackerrank.Options
}

type Registry struct {
	extractors map[profile.Platform]scrapers.Extractor
}

func New(opts Options, clock chrono.API, tel telemetry.API) *Registry {
	return FromExtractors(
		leetcode.New(opts.LeetCode, clock, tel),
		codeforces.New(opts.Codeforces, clock, tel),
		gfg.New(opts.GFG, clock, tel),
		codechef.New(opts.CodeChef, clock, tel),
		hackerrank.New(opts.HackerRank, clock, tel),
	)
}

// FromExtractors builds a registry out of arbitrary extractors, later
// extractors replace earlier ones of the same platform.
func FromExtractors(extractors ...scrapers.Extractor) *Registry {
	r := &Registry{extractors: map[profile.Platform]scrapers.Extractor{}}
	for _, e := range extractors {
		r.extractors[e.Platform()] = e
	}
	return r
}

func (r *Registry) Get(platform profile.Platform) (scrapers.Extractor, error) {
	e, ok := r.extractors[platform]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for %q", platform)
	}
	return e, nil
}

// Platforms returns the registered platforms in display order.
func (r *Registry) Platforms() []profile.Platform {
	var out []profile.Platform
	for _, p := range profile.Platforms {
		if _, ok := r.extractors[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
