package indicator

// MACD periods used when callers have no preference.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// MACDValue is one MACD reading.
type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACDSeries holds the aligned MACD, signal and histogram series.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD returns EMA(fast) - EMA(slow) and its signal-period EMA at the last value.
func MACD(values []float64, fast, slow, signal int) (MACDValue, error) {
	need := slow + signal - 1
	if fast <= 0 || slow <= fast || signal <= 0 || len(values) < need {
		return MACDValue{}, insufficient("MACD", need, len(values))
	}
	s := ComputeMACDSeries(values, fast, slow, signal)
	last := len(values) - 1
	return MACDValue{MACD: s.MACD[last], Signal: s.Signal[last], Histogram: s.Histogram[last]}, nil
}

// ComputeMACDSeries computes MACD at every index. The MACD line is ready at
// index slow-1 and the signal line signal-1 bars later.
func ComputeMACDSeries(values []float64, fast, slow, signal int) MACDSeries {
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)

	line := nanSlice(len(values))
	for i := range values {
		if Ready(fastEMA[i]) && Ready(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}
	sig := EMASeries(line, signal)
	hist := nanSlice(len(values))
	for i := range values {
		if Ready(line[i]) && Ready(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDSeries{MACD: line, Signal: sig, Histogram: hist}
}
