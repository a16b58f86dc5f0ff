package analyzer

// AnalysisOptions configures the pattern pre-classifier and the surface
// inspection. The weights and the threshold are uncalibrated defaults.
type AnalysisOptions struct {
	// Pre-classifier weights
	UniformityWeight  float64
	HomogeneityWeight float64
	EdgeWeight        float64
	PatternThreshold  float64

	// Sobel magnitude above which a pixel counts as an edge
	EdgeMagnitude float64

	// Inspection thresholds
	BlurThreshold           float64
	OverexposureThreshold   float64
	OversaturationThreshold float64
	MaxChannelImbalance     float64

	// MaxSide bounds the size the metrics run at
	MaxSide int
}

// DefaultOptions returns default analysis options
func DefaultOptions() AnalysisOptions {
	return AnalysisOptions{
		UniformityWeight:        0.4,
		HomogeneityWeight:       0.4,
		EdgeWeight:              0.2,
		PatternThreshold:        0.65,
		EdgeMagnitude:           50,
		BlurThreshold:           100.0,
		OverexposureThreshold:   0.95,
		OversaturationThreshold: 0.9,
		MaxChannelImbalance:     0.1,
		MaxSide:                 512,
	}
}

// WithThreshold returns options with a different pattern threshold
func (opts AnalysisOptions) WithThreshold(threshold float64) AnalysisOptions {
	opts.PatternThreshold = threshold
	return opts
}

// WithWeights returns options with different cue weights
func (opts AnalysisOptions) WithWeights(uniformity, homogeneity, edges float64) AnalysisOptions {
	opts.UniformityWeight = uniformity
	opts.HomogeneityWeight = homogeneity
	opts.EdgeWeight = edges
	return opts
}

// WithCustomThresholds allows setting custom inspection thresholds
func (opts AnalysisOptions) WithCustomThresholds(blur, overexposure, oversaturation float64) AnalysisOptions {
	opts.BlurThreshold = blur
	opts.OverexposureThreshold = overexposure
	opts.OversaturationThreshold = oversaturation
	return opts
}
