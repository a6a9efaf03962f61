// Package scoring computes the quality and speed scores used to rank
// encoding pipeline candidates.
//
// Both score functions are pure: identical inputs always give identical
// outputs and nothing is allocated, so they can run once per candidate on
// the frame path.
//
// Model summary:
//
//	rating    = encoder rating, or (1*csc + 2*encoder)/3 with a CSC step
//	            (+20 quality when the encoder has a lossless mode)
//	intrinsic = rating * formatCeiling / 100
//	score     = intrinsic + 0.1*formatCeiling + 15*log2(denomX*denomY) [+ boosts]
//
// A floor (minQuality / minSpeed) that the intrinsic component does not
// strictly exceed subtracts FloorPenalty plus twice the shortfall. The rank
// key blends both scores by preference, which can hide one penalty, so
// ScoreCandidate also reports whether both floors hold and the selector
// ranks on that first.
package scoring

import (
	"math"

	"github.com/jmylchreest/framecast/internal/capability"
)

// Model constants.
const (
	// CscWeight and EncoderWeight weigh the two stage ratings when a CSC step exists.
	CscWeight     = 1.0
	EncoderWeight = 2.0

	// LosslessBonus is added to the quality rating of lossless-capable encoders.
	LosslessBonus = 20.0

	// FormatWeight scales the format ceiling term.
	FormatWeight = 0.1

	// ScaleWeight is the bonus per halving of the encoded surface.
	ScaleWeight = 15.0

	// FloorPenalty exceeds the whole attainable score range, so a candidate
	// failing a floor scores below every candidate that clears it.
	FloorPenalty = 1000.0

	// ShortfallWeight scales the distance below the floor.
	ShortfallWeight = 2.0
)

// QualityScore scores the visual quality of a pipeline. csc may be nil when
// the encoder consumes the captured format directly.
func QualityScore(format capability.PixelFormat, csc *capability.CscSpec, enc *capability.EncoderSpec, scale ScaleFactor, minQuality int) float64 {
	intrinsic := IntrinsicQuality(format, csc, enc)
	ceiling := float64(format.QualityCeiling())
	score := intrinsic + FormatWeight*ceiling + scaleBonus(scale)
	return score - floorPenalty(intrinsic, minQuality)
}

// SpeedScore scores the throughput of a pipeline. csc may be nil.
func SpeedScore(format capability.PixelFormat, csc *capability.CscSpec, enc *capability.EncoderSpec, scale ScaleFactor, minSpeed int) float64 {
	intrinsic := IntrinsicSpeed(format, csc, enc)
	ceiling := float64(format.SpeedCeiling())
	score := intrinsic + FormatWeight*ceiling + scaleBonus(scale) + enc.ScoreBoost()
	if csc != nil {
		score += csc.ScoreBoost()
	}
	return score - floorPenalty(intrinsic, minSpeed)
}

// IntrinsicQuality returns the quality component the minQuality floor is
// compared against.
func IntrinsicQuality(format capability.PixelFormat, csc *capability.CscSpec, enc *capability.EncoderSpec) float64 {
	r := stageRating(csc, enc, capability.Spec.QualityRating)
	if enc.Lossless() {
		r += LosslessBonus
	}
	return r * float64(format.QualityCeiling()) / 100
}

// IntrinsicSpeed returns the speed component the minSpeed floor is compared against.
func IntrinsicSpeed(format capability.PixelFormat, csc *capability.CscSpec, enc *capability.EncoderSpec) float64 {
	r := stageRating(csc, enc, capability.Spec.SpeedRating)
	return r * float64(format.SpeedCeiling()) / 100
}

// stageRating reads one rating from each stage and weighs them. The nil
// check happens before csc is boxed into a capability.Spec.
func stageRating(csc *capability.CscSpec, enc *capability.EncoderSpec, rating func(capability.Spec) int) float64 {
	if csc == nil {
		return float64(rating(enc))
	}
	return combine(rating(csc), rating(enc))
}

func combine(cscRating, encRating int) float64 {
	return (CscWeight*float64(cscRating) + EncoderWeight*float64(encRating)) / (CscWeight + EncoderWeight)
}

func scaleBonus(scale ScaleFactor) float64 {
	area := scale.Area()
	if area <= 1 {
		return 0
	}
	return ScaleWeight * math.Log2(float64(area))
}

// MeetsFloor reports whether an intrinsic component clears a floor. A floor
// of zero or less always passes. Sitting exactly on the floor fails it.
func MeetsFloor(intrinsic float64, floor int) bool {
	return floor <= 0 || intrinsic > float64(floor)
}

func floorPenalty(intrinsic float64, floor int) float64 {
	if MeetsFloor(intrinsic, floor) {
		return 0
	}
	return FloorPenalty + ShortfallWeight*(float64(floor)-intrinsic)
}

// Score holds both scores of one candidate.
type Score struct {
	Quality float64 `json:"quality"`
	Speed   float64 `json:"speed"`
	// MeetsFloors is set when the candidate clears both the quality and the
	// speed floor.
	MeetsFloors bool `json:"meets_floors"`
}

// ScoreCandidate computes both scores at once.
func ScoreCandidate(format capability.PixelFormat, csc *capability.CscSpec, enc *capability.EncoderSpec, scale ScaleFactor, minQuality, minSpeed int) Score {
	meets := MeetsFloor(IntrinsicQuality(format, csc, enc), minQuality) &&
		MeetsFloor(IntrinsicSpeed(format, csc, enc), minSpeed)
	return Score{
		Quality:     QualityScore(format, csc, enc, scale, minQuality),
		Speed:       SpeedScore(format, csc, enc, scale, minSpeed),
		MeetsFloors: meets,
	}
}

// PreferenceWeight derives the quality weight w in [0,1] from the target
// quality and speed: 0.5 when they are equal, 1 when only quality matters.
func PreferenceWeight(targetQuality, targetSpeed int) float64 {
	w := 0.5 + float64(targetQuality-targetSpeed)/200
	return math.Max(0, math.Min(1, w))
}

// RankKey combines both scores: w*quality + (1-w)*speed.
func RankKey(s Score, w float64) float64 {
	return w*s.Quality + (1-w)*s.Speed
}
