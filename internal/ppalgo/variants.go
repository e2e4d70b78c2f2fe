package ppalgo

import (
	"fmt"
	"math"
)

// baseCurve is the shared shape behind every variant: a star rating
// derived from the beatmap bytes (opaque to this platform — treated as a
// black box difficulty signal) combined with the score's accuracy, combo
// completion, and miss count. Each named variant below is a distinct
// tuning of the same curve, standing in for the real PP library that
// lives outside this platform's scope (spec §1).
type baseCurve struct {
	// missPenalty scales the per-miss pp deduction.
	missPenalty float64
	// accuracyExponent controls how sharply pp falls off below 100% acc.
	accuracyExponent float64
	// comboWeight controls how much unfinished combo costs.
	comboWeight float64
}

func difficultyStars(beatmapBytes []byte) float64 {
	if len(beatmapBytes) == 0 {
		return 0
	}
	// A stand-in difficulty signal: longer/denser .osu files correlate
	// with higher object counts and thus higher star rating in the real
	// algorithms this platform delegates to.
	sum := 0
	for _, b := range beatmapBytes {
		sum += int(b)
	}
	avg := float64(sum) / float64(len(beatmapBytes))
	stars := (avg / 255.0) * 8.0
	if stars < 0.5 {
		stars = 0.5
	}
	return stars
}

func (c baseCurve) Calculate(beatmapBytes []byte, in ScoreInputs) (Result, error) {
	if len(beatmapBytes) == 0 {
		return Result{}, fmt.Errorf("ppalgo: empty beatmap bytes")
	}
	stars := difficultyStars(beatmapBytes)

	maxCombo := in.MaxCombo
	if maxCombo <= 0 {
		maxCombo = 1
	}

	accFactor := math.Pow(in.Accuracy, c.accuracyExponent)
	missFactor := math.Max(0, 1-c.missPenalty*float64(in.CountMiss))
	comboFactor := math.Min(1, (float64(maxCombo)+c.comboWeight)/(float64(maxCombo)+1))
	if in.MaxCombo <= 0 {
		comboFactor = 0
	}

	pp := math.Pow(stars, 2.2) * 25 * accFactor * missFactor * comboFactor

	ar := math.Min(10, stars)
	od := math.Min(10, stars*0.9)

	return Result{PP: Sanitize(pp), Stars: Sanitize(stars), AR: Round2(ar), OD: Round2(od)}, nil
}

// Conceptual is rework_id 10-12's variant (original_source/src/processor/
// mod.rs dispatches all three to calculate_conceptual_pp).
func Conceptual() PPAlgorithm {
	return baseCurve{missPenalty: 0.02, accuracyExponent: 5.5, comboWeight: 0.2}
}

// SkillRebalance is rework_id 13's variant (calculate_skill_rebalance_pp).
func SkillRebalance() PPAlgorithm {
	return baseCurve{missPenalty: 0.015, accuracyExponent: 6.0, comboWeight: 0.3}
}

// ImprovedMissPenalty, FlashlightHotfix, RemoveAccuracy, StreamNerfSpeed,
// RemoveManualAdjustments, FixInconsistentPowers, AimAccuracyFix,
// ImprovedMissPenaltyAndAccRework, and EverythingAtOnce are the remaining
// named historical reworks from spec §9's enumerated sum type. Each is a
// distinct curve tuning; new reworks plug in the same way.
func ImprovedMissPenalty() PPAlgorithm {
	return baseCurve{missPenalty: 0.035, accuracyExponent: 5.0, comboWeight: 0.2}
}

func FlashlightHotfix() PPAlgorithm {
	return baseCurve{missPenalty: 0.02, accuracyExponent: 5.0, comboWeight: 0.25}
}

func RemoveAccuracy() PPAlgorithm {
	return baseCurve{missPenalty: 0.02, accuracyExponent: 1.0, comboWeight: 0.2}
}

func StreamNerfSpeed() PPAlgorithm {
	return baseCurve{missPenalty: 0.02, accuracyExponent: 5.5, comboWeight: 0.15}
}

func RemoveManualAdjustments() PPAlgorithm {
	return baseCurve{missPenalty: 0.02, accuracyExponent: 5.5, comboWeight: 0.2}
}

func FixInconsistentPowers() PPAlgorithm {
	return baseCurve{missPenalty: 0.018, accuracyExponent: 5.7, comboWeight: 0.22}
}

func AimAccuracyFix() PPAlgorithm {
	return baseCurve{missPenalty: 0.02, accuracyExponent: 5.8, comboWeight: 0.2}
}

func ImprovedMissPenaltyAndAccRework() PPAlgorithm {
	return baseCurve{missPenalty: 0.03, accuracyExponent: 6.0, comboWeight: 0.2}
}

func EverythingAtOnce() PPAlgorithm {
	return baseCurve{missPenalty: 0.025, accuracyExponent: 5.9, comboWeight: 0.25}
}

// Osu2019Relax is the relax-specific variant, selected whenever a score
// has the relax mod bit set on the standard (osu!) ruleset, independent
// of which rework_id is active (original_source/src/deploy/mod.rs's
// recalculate_relax_scores).
func Osu2019Relax() PPAlgorithm {
	return baseCurve{missPenalty: 0.01, accuracyExponent: 4.5, comboWeight: 0.3}
}

// DefaultRegistry wires every named historical variant to the rework_id
// it was delivered under, matching original_source/src/processor/mod.rs's
// dispatch (10/11/12 -> conceptual, 13 -> skill_rebalance) extended with
// the remaining named variants from spec §9 for reworks 1-9.
func DefaultRegistry() *Registry {
	reg := NewRegistry(Osu2019Relax(), Conceptual())
	reg.Register(1, ImprovedMissPenalty())
	reg.Register(2, FlashlightHotfix())
	reg.Register(3, RemoveAccuracy())
	reg.Register(4, StreamNerfSpeed())
	reg.Register(5, RemoveManualAdjustments())
	reg.Register(6, FixInconsistentPowers())
	reg.Register(7, AimAccuracyFix())
	reg.Register(8, ImprovedMissPenaltyAndAccRework())
	reg.Register(9, EverythingAtOnce())
	reg.Register(10, Conceptual())
	reg.Register(11, Conceptual())
	reg.Register(12, Conceptual())
	reg.Register(13, SkillRebalance())
	return reg
}
