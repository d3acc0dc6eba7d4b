package models

// StrategyConfig names a catalog strategy and its numeric parameters.
type StrategyConfig struct {
	Name       string             `json:"name" validate:"required"`
	Parameters map[string]float64 `json:"parameters"`
}

// Param returns the named parameter or def when it is absent.
func (c StrategyConfig) Param(key string, def float64) float64 {
	if v, ok := c.Parameters[key]; ok {
		return v
	}
	return def
}
