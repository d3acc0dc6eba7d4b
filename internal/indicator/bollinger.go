package indicator

// Bollinger defaults.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerK      = 2.0
)

// Bands is one Bollinger reading.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// PercentB locates price within the bands: 0 at the lower band, 1 at the upper.
// Collapsed bands yield 0.5.
func (b Bands) PercentB(price float64) float64 {
	width := b.Upper - b.Lower
	if width == 0 {
		return 0.5
	}
	return (price - b.Lower) / width
}

// Bollinger returns SMA(period) ± k·stddev(period). With too little history
// all three bands collapse onto the last value.
func Bollinger(values []float64, period int, k float64) Bands {
	b, err := BollingerStrict(values, period, k)
	if err != nil {
		if len(values) == 0 {
			return Bands{}
		}
		last := values[len(values)-1]
		return Bands{Upper: last, Middle: last, Lower: last}
	}
	return b
}

// BollingerStrict is Bollinger without the centered fallback.
func BollingerStrict(values []float64, period int, k float64) (Bands, error) {
	mid, err := SMA(values, period)
	if err != nil {
		return Bands{}, insufficient("Bollinger", period, len(values))
	}
	sd := stddevAround(values[len(values)-period:], mid)
	return Bands{Upper: mid + k*sd, Middle: mid, Lower: mid - k*sd}, nil
}

// BollingerSeries computes bands at every index; warm-up entries have NaN bands.
func BollingerSeries(values []float64, period int, k float64) []Bands {
	mids := SMASeries(values, period)
	out := make([]Bands, len(values))
	for i, mid := range mids {
		if !Ready(mid) {
			out[i] = Bands{Upper: mid, Middle: mid, Lower: mid}
			continue
		}
		sd := stddevAround(values[i-period+1:i+1], mid)
		out[i] = Bands{Upper: mid + k*sd, Middle: mid, Lower: mid - k*sd}
	}
	return out
}
