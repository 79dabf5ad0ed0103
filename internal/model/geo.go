package model

// GeoResult is the outcome of resolving one normalized location. It is
// created once per distinct location per run and shared read-only by every
// record that references it.
type GeoResult struct {
	Key       string  `json:"key" yaml:"key"`
	Location  string  `json:"location" yaml:"location"`
	Success   bool    `json:"success" yaml:"success"`
	Latitude  float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Label     string  `json:"label,omitempty" yaml:"label,omitempty"`
	City      string  `json:"city,omitempty" yaml:"city,omitempty"`
	Score     float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Source    string  `json:"source,omitempty" yaml:"source,omitempty"`
	Attempts  int     `json:"attempts" yaml:"attempts"`
	ErrClass  string  `json:"error_class,omitempty" yaml:"error_class,omitempty"`
	Err       string  `json:"error,omitempty" yaml:"error,omitempty"`
}
