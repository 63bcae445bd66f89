package stats

import (
	"math"

	"github.com/jaxxstorm/conndiag/internal/model"
)

// Summarize derives the time-series statistics for a ping series. Latency
// figures are computed over successful attempts only; an empty series and
// a series without successes both yield zeros rather than NaN.
func Summarize(samples []model.PingSample) model.PingStats {
	out := model.PingStats{Sent: len(samples)}
	if len(samples) == 0 {
		return out
	}

	times := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Success {
			continue
		}
		out.Received++
		if s.TimeMs != nil {
			times = append(times, *s.TimeMs)
		}
	}
	out.SuccessRate = float64(out.Received) / float64(out.Sent) * 100

	if len(times) == 0 {
		return out
	}

	min, max, sum := times[0], times[0], 0.0
	for _, t := range times {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
		sum += t
	}
	out.MinMs = min
	out.MaxMs = max
	out.AvgMs = sum / float64(len(times))
	out.JitterMs = sampleStddev(times, out.AvgMs)
	return out
}

// sampleStddev uses the n-1 divisor; fewer than two samples have no
// meaningful deviation and yield 0.
func sampleStddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
