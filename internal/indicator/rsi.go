package indicator

// DefaultRSIPeriod is the conventional Wilder period.
const DefaultRSIPeriod = 14

// NeutralRSI is returned when there is not enough history.
const NeutralRSI = 50.0

// RSI returns the Relative Strength Index of the last value using Wilder's
// smoothing, or NeutralRSI when fewer than period+1 values are available.
func RSI(values []float64, period int) float64 {
	v, err := RSIStrict(values, period)
	if err != nil {
		return NeutralRSI
	}
	return v
}

// RSIStrict is RSI without the neutral fallback.
func RSIStrict(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period+1 {
		return 0, insufficient("RSI", period+1, len(values))
	}
	s := RSISeries(values, period)
	return s[len(s)-1], nil
}

// RSISeries computes RSI at every index. The first value is available at
// index period, seeded with the simple average of the first period deltas.
func RSISeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return NeutralRSI
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
