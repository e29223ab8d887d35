package models

import "testing"

func TestGenerationParamsMerge(t *testing.T) {
	base := GenerationParams{
		Temperature: Float64(0.7),
		TopP:        Float64(1.0),
		Stop:        []string{"</s>"},
	}

	merged := base.Merge(GenerationParams{
		Temperature: Float64(0.2),
		MaxTokens:   Int(256),
	})

	if *merged.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want override 0.2", *merged.Temperature)
	}
	if *merged.TopP != 1.0 {
		t.Errorf("TopP = %v, want base 1.0", *merged.TopP)
	}
	if *merged.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want override 256", *merged.MaxTokens)
	}
	if len(merged.Stop) != 1 || merged.Stop[0] != "</s>" {
		t.Errorf("Stop = %v, want base stop sequences kept", merged.Stop)
	}

	// The base must not be modified.
	if *base.Temperature != 0.7 {
		t.Errorf("Merge modified its receiver: Temperature = %v", *base.Temperature)
	}
}

func TestGenerationParamsResolved(t *testing.T) {
	temperature, topP := GenerationParams{}.Resolved()
	if temperature != DefaultTemperature || topP != DefaultTopP {
		t.Errorf("Resolved() on empty params = (%v, %v), want server defaults", temperature, topP)
	}

	temperature, topP = GenerationParams{Temperature: Float64(0), TopP: Float64(0.3)}.Resolved()
	if temperature != 0 {
		t.Errorf("Resolved() temperature = %v, an explicit zero must win over the default", temperature)
	}
	if topP != 0.3 {
		t.Errorf("Resolved() topP = %v, want 0.3", topP)
	}
}
