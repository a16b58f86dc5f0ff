package analyzer

// PatternScore is the pre-classifier outcome. Score is the weighted
// combination of the three cues; IsPattern compares it to the threshold.
type PatternScore struct {
	Score       float64 `json:"score"`
	Uniformity  float64 `json:"lbp_uniformity"`
	Homogeneity float64 `json:"glcm_homogeneity"`
	EdgeRatio   float64 `json:"edge_ratio"`
	IsPattern   bool    `json:"is_pattern"`
}

// Metrics holds mean color statistics, all normalized to [0, 1].
type Metrics struct {
	AvgLuminance  float64
	AvgSaturation float64
	AvgR          float64
	AvgG          float64
	AvgB          float64
}

// ColorSummary describes the dominant color of an image.
type ColorSummary struct {
	Hex    string  `json:"hex"`
	Family string  `json:"family"`
	Share  float64 `json:"share"`
}
