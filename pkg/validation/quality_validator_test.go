package validation

import (
	"testing"
)

func goodMetrics() ImageQualityMetrics {
	return ImageQualityMetrics{
		Width:          1024,
		Height:         768,
		LaplacianVar:   800.0,
		Brightness:     140.0,
		AvgLuminance:   0.55,
		AvgSaturation:  0.3,
		ChannelBalance: [3]float64{0.55, 0.54, 0.56},
		NoiseLevel:     0.1,
	}
}

func issueTypes(issues []QualityIssue) map[string]QualityIssue {
	out := make(map[string]QualityIssue, len(issues))
	for _, i := range issues {
		out[i.Type] = i
	}
	return out
}

func TestNewQualityValidator(t *testing.T) {
	validator := NewQualityValidator()
	if validator == nil {
		t.Fatal("Expected non-nil quality validator")
	}
	expected := DefaultQualityThresholds().MinLaplacianVariance
	if validator.thresholds.MinLaplacianVariance != expected {
		t.Errorf("Expected MinLaplacianVariance to be %f, got %f", expected, validator.thresholds.MinLaplacianVariance)
	}
}

func TestNewQualityValidatorWithThresholds(t *testing.T) {
	validator := NewQualityValidatorWithThresholds(QualityThresholds{MinLaplacianVariance: 500.0, MaxNoise: 0.3})
	if validator.thresholds.MinLaplacianVariance != 500.0 {
		t.Errorf("Expected custom MinLaplacianVariance to be 500.0, got %f", validator.thresholds.MinLaplacianVariance)
	}
	if validator.thresholds.MaxNoise != 0.3 {
		t.Errorf("Expected custom MaxNoise to be 0.3, got %f", validator.thresholds.MaxNoise)
	}
}

func TestValidateBasicQuality(t *testing.T) {
	validator := NewQualityValidator()

	tests := []struct {
		name     string
		modify   func(m *ImageQualityMetrics)
		expected []string
		critical bool
	}{
		{
			name:   "Good sample",
			modify: func(m *ImageQualityMetrics) {},
		},
		{
			name:     "Featureless is blurry",
			modify:   func(m *ImageQualityMetrics) { m.LaplacianVar = 0.5 },
			expected: []string{"blurriness"},
		},
		{
			name: "Plain evenly lit surface is not blurry",
			modify: func(m *ImageQualityMetrics) {
				m.LaplacianVar = 40
			},
		},
		{
			name: "Low variance with color cast is blurry",
			modify: func(m *ImageQualityMetrics) {
				m.LaplacianVar = 40
				m.IncorrectWB = true
			},
			expected: []string{"blurriness", "white_balance"},
		},
		{
			name: "Overexposed",
			modify: func(m *ImageQualityMetrics) {
				m.Overexposed = true
				m.AvgLuminance = 0.96
			},
			expected: []string{"overexposure", "high_luminance"},
			critical: true,
		},
		{
			name:     "Dark",
			modify:   func(m *ImageQualityMetrics) { m.AvgLuminance = 0.1 },
			expected: []string{"low_luminance"},
			critical: true,
		},
		{
			name:     "Oversaturated",
			modify:   func(m *ImageQualityMetrics) { m.Oversaturated = true },
			expected: []string{"oversaturation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := goodMetrics()
			tt.modify(&m)
			issues := validator.ValidateBasicQuality(m)
			got := issueTypes(issues)
			if len(got) != len(tt.expected) {
				t.Errorf("Expected issues %v, got %v", tt.expected, issues)
			}
			for _, typ := range tt.expected {
				if _, ok := got[typ]; !ok {
					t.Errorf("Expected %s issue, got %v", typ, issues)
				}
			}
			if validator.HasCriticalIssues(issues) != tt.critical {
				t.Errorf("Expected critical=%v, got %v", tt.critical, !tt.critical)
			}
		})
	}
}

func TestValidateCaptureQuality(t *testing.T) {
	validator := NewQualityValidator()
	skew := -8.0
	small := 3.0

	tests := []struct {
		name     string
		modify   func(m *ImageQualityMetrics)
		expected []string
	}{
		{"Good sample", func(m *ImageQualityMetrics) {}, nil},
		{"Low resolution", func(m *ImageQualityMetrics) { m.Width, m.Height = 200, 200 }, []string{"low_resolution"}},
		{"Thin strip", func(m *ImageQualityMetrics) { m.Width, m.Height = 2000, 100 }, []string{"low_resolution"}},
		{"Noisy", func(m *ImageQualityMetrics) { m.NoiseLevel = 0.8 }, []string{"noise"}},
		{"Tilted", func(m *ImageQualityMetrics) { m.SkewAngle = &skew }, []string{"skew"}},
		{"Small tilt", func(m *ImageQualityMetrics) { m.SkewAngle = &small }, nil},
		{"Background visible", func(m *ImageQualityMetrics) { m.HasDocumentEdges = true }, []string{"background_visible"}},
		{"Too dark", func(m *ImageQualityMetrics) { m.IsTooDark = true; m.Brightness = 60 }, []string{"too_dark"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := goodMetrics()
			tt.modify(&m)
			issues := validator.ValidateCaptureQuality(m)
			got := issueTypes(issues)
			if len(got) != len(tt.expected) {
				t.Errorf("Expected issues %v, got %v", tt.expected, issues)
			}
			for _, typ := range tt.expected {
				if _, ok := got[typ]; !ok {
					t.Errorf("Expected %s issue, got %v", typ, issues)
				}
			}
		})
	}

	m := goodMetrics()
	m.SkewAngle = &skew
	issue := issueTypes(validator.ValidateCaptureQuality(m))["skew"]
	if issue.ActualValue != 8 || issue.Severity != SeverityInfo {
		t.Errorf("Expected info skew issue with value 8, got %+v", issue)
	}
}

func TestConvertIssuesToMessages(t *testing.T) {
	validator := NewQualityValidator()
	issues := []QualityIssue{
		{Type: "blurriness", Message: "blurred"},
		{Type: "noise", Message: "noisy"},
	}
	messages := validator.ConvertIssuesToMessages(issues)
	if len(messages) != 2 || messages[0] != "blurred" || messages[1] != "noisy" {
		t.Errorf("Expected [blurred noisy], got %v", messages)
	}
	if got := validator.ConvertIssuesToMessages(nil); len(got) != 0 {
		t.Errorf("Expected no messages, got %v", got)
	}
}

func TestHasCriticalIssues(t *testing.T) {
	validator := NewQualityValidator()
	if validator.HasCriticalIssues([]QualityIssue{{Severity: SeverityWarning}, {Severity: SeverityInfo}}) {
		t.Error("Expected warnings and info not to be critical")
	}
	if !validator.HasCriticalIssues([]QualityIssue{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Error("Expected error severity to be critical")
	}
}
