package rules

// Thresholds is the process-wide, immutable-after-startup threshold
// configuration the built-in rules are constructed with.
type Thresholds struct {
	SuddenDeceleration    DecelerationThresholds `yaml:"sudden_deceleration"`
	PerceptionInstability CentroidThresholds     `yaml:"perception_instability"`
	DropoutProxy          DropoutThresholds      `yaml:"dropout_proxy"`
}

// DecelerationThresholds are in m/s^2; both are negative, critical more so.
type DecelerationThresholds struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// CentroidThresholds are frame-to-frame centroid jumps in meters.
type CentroidThresholds struct {
	CentroidWarning  float64 `yaml:"centroid_warning"`
	CentroidCritical float64 `yaml:"centroid_critical"`
}

// DropoutThresholds count vehicles disappearing between rolling windows.
type DropoutThresholds struct {
	AgentDrop int `yaml:"agent_drop"`
}

// DefaultThresholds returns the stock threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuddenDeceleration: DecelerationThresholds{
			Warning:  -3.0,
			Critical: -5.0,
		},
		PerceptionInstability: CentroidThresholds{
			CentroidWarning:  5.0,
			CentroidCritical: 10.0,
		},
		DropoutProxy: DropoutThresholds{
			AgentDrop: 5,
		},
	}
}
