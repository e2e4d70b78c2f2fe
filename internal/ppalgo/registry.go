// Package ppalgo maps a rework to the algorithm variant that recomputes
// pp for its scores, and aggregates per-score pp into a weighted total.
// The algorithms themselves are treated as an opaque family of pure
// functions over beatmap bytes and score inputs — the interesting part,
// implemented here, is how the platform selects, sanitizes, and combines
// their output.
package ppalgo

import "math"

// ScoreInputs is the subset of a score's fields that feed pp calculation.
type ScoreInputs struct {
	Mode     int32
	Mods     int32
	MaxCombo int32
	Accuracy float64
	Count300 int32
	Count100 int32
	Count50  int32
	CountMiss int32
}

// Result is the sanitized output of a PP variant. AR/OD are derived
// stand-ins (this platform treats beatmap difficulty as an opaque black
// box, spec §1) carried through only so the calculate endpoint's
// response shape matches the original's CalculateResponse.
type Result struct {
	PP    float64
	Stars float64
	AR    float64
	OD    float64
}

// PPAlgorithm is the capability set every rework variant implements.
type PPAlgorithm interface {
	Calculate(beatmapBytes []byte, in ScoreInputs) (Result, error)
}

const relaxModBit = 1 << 7 // RX

// IsRelaxOsu reports whether these inputs select the osu2019-relax
// variant: relax mod set, standard (osu!) ruleset.
func IsRelaxOsu(mode int32, mods int32) bool {
	return mode == 0 && mods&relaxModBit != 0
}

// Registry resolves a rework id to its algorithm variant. New reworks
// plug in by registering a variant; there is no string reflection.
type Registry struct {
	variants map[int32]PPAlgorithm
	relax    PPAlgorithm
	fallback PPAlgorithm
}

// NewRegistry builds a Registry. relax is used whenever the score's mode
// and mods select the osu2019-relax special case (spec §4.2), regardless
// of which rework_id is active. fallback handles any rework_id with no
// registered variant.
func NewRegistry(relax, fallback PPAlgorithm) *Registry {
	return &Registry{variants: make(map[int32]PPAlgorithm), relax: relax, fallback: fallback}
}

// Register associates a rework id with a variant.
func (r *Registry) Register(reworkID int32, variant PPAlgorithm) {
	r.variants[reworkID] = variant
}

// Resolve picks the variant for (reworkID, mode, mods), preferring the
// relax special case over the per-rework_id registration, matching
// original_source/src/deploy/mod.rs's recalculate_beatmap dispatch.
func (r *Registry) Resolve(reworkID int32, mode int32, mods int32) PPAlgorithm {
	if IsRelaxOsu(mode, mods) && r.relax != nil {
		return r.relax
	}
	if v, ok := r.variants[reworkID]; ok {
		return v
	}
	return r.fallback
}

// Round2 rounds to 2 decimal places, matching the original's round(x, 2).
func Round2(x float64) float64 {
	const scale = 100.0
	return math.Round(x*scale) / scale
}

// Sanitize coerces a non-finite value to 0.0, then rounds to 2 decimals.
// Must be applied before any persistence or publication (spec §4.2).
func Sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0.0
	}
	return Round2(x)
}
