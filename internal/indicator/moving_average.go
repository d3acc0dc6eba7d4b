// Package indicator implements stateless technical indicators over price
// slices ordered oldest first. Every function is safe for concurrent use.
//
// Point functions return the value at the last element. Series functions
// return a slice aligned with the input where element i depends only on
// inputs 0..i; entries still in their warm-up window are NaN.
package indicator

import "math"

// SMA is the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, insufficient("SMA", period, len(values))
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// SMASeries computes SMA at every index with a rolling sum.
func SMASeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first
// period values, smoothing factor 2/(period+1).
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, insufficient("EMA", period, len(values))
	}
	s := EMASeries(values, period)
	return s[len(s)-1], nil
}

// EMASeries computes EMA at every index. NaN inputs before the first real
// value are skipped, so the function can be chained over another series.
func EMASeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < period {
		return out
	}

	k := 2.0 / float64(period+1)
	seed := 0.0
	for _, v := range values[start : start+period] {
		seed += v
	}
	prev := seed / float64(period)
	out[start+period-1] = prev
	for i := start + period; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// StdDev is the population standard deviation of the last period values.
func StdDev(values []float64, period int) (float64, error) {
	mean, err := SMA(values, period)
	if err != nil {
		return 0, insufficient("StdDev", period, len(values))
	}
	return stddevAround(values[len(values)-period:], mean), nil
}

func stddevAround(window []float64, mean float64) float64 {
	ss := 0.0
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(window)))
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Ready reports whether a series value is past its warm-up window.
func Ready(v float64) bool { return !math.IsNaN(v) }
