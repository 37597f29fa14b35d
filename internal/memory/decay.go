// Package memory scores stored incident memories by age and recorded severity.
//
// Weight = exp(-ageDays / 30) * (1 + severity / 5). The decay factor reaches
// 1/e after 30 days; severity boosts linearly so a severity-5 memory weighs
// twice as much as a fresh severity-0 one.
package memory

// #region imports
import (
	"math"
	"time"
)

// #endregion imports

// #region constants

// DecayDays is the time constant of the exponential decay, in days.
const DecayDays = 30.0

const secondsPerDay = 86400.0

// #endregion constants

// #region score

// Decay returns the age factor alone: exp(-ageDays / 30).
func Decay(ageDays float64) float64 {
	return math.Exp(-ageDays / DecayDays)
}

// Score returns the relevance weight of a memory recorded at recordedAt with
// the given severity, evaluated at now.
func Score(recordedAt time.Time, severity int, now time.Time) float64 {
	ageDays := now.Sub(recordedAt).Seconds() / secondsPerDay
	return Decay(ageDays) * (1 + float64(severity)/5)
}

// ScoreUnix is Score over unix-second timestamps, the form stored in index metadata.
func ScoreUnix(recordedAt int64, severity int, now time.Time) float64 {
	return Score(time.Unix(recordedAt, 0), severity, now)
}

// #endregion score
