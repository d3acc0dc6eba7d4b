package indicator

// Stochastic defaults.
const (
	DefaultStochasticPeriod = 14
	DefaultStochasticSmooth = 3
)

// StochasticValue holds %K and its SMA %D.
type StochasticValue struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// Stochastic returns %K = (close - lowN)/(highN - lowN)·100 over period bars
// and %D as the dPeriod SMA of %K, at the last bar. A flat window yields 50.
func Stochastic(highs, lows, closes []float64, period, dPeriod int) (StochasticValue, error) {
	need := period + dPeriod - 1
	if period <= 0 || dPeriod <= 0 || len(closes) < need || len(highs) != len(closes) || len(lows) != len(closes) {
		return StochasticValue{}, insufficient("Stochastic", need, len(closes))
	}
	k, d := StochasticSeries(highs, lows, closes, period, dPeriod)
	last := len(closes) - 1
	return StochasticValue{K: k[last], D: d[last]}, nil
}

// StochasticSeries computes %K and %D at every index.
func StochasticSeries(highs, lows, closes []float64, period, dPeriod int) (k, d []float64) {
	k = nanSlice(len(closes))
	if period <= 0 || len(highs) != len(closes) || len(lows) != len(closes) {
		return k, nanSlice(len(closes))
	}
	for i := period - 1; i < len(closes); i++ {
		hi, lo := highs[i], lows[i]
		for j := i - period + 1; j <= i; j++ {
			if highs[j] > hi {
				hi = highs[j]
			}
			if lows[j] < lo {
				lo = lows[j]
			}
		}
		if hi == lo {
			k[i] = 50
			continue
		}
		k[i] = (closes[i] - lo) / (hi - lo) * 100
	}

	d = nanSlice(len(closes))
	if dPeriod <= 0 {
		return k, d
	}
	first := period - 1
	if first < 0 || first >= len(closes) {
		return k, d
	}
	dTail := SMASeries(k[first:], dPeriod)
	copy(d[first:], dTail)
	return k, d
}
