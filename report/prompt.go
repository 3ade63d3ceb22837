package report

import "fmt"

// DiagnosisPrompt builds the instruction sent alongside the user's symptom
// description and photos. The model is told to answer with the exact JSON
// shape that Diagnosis unmarshals.
func DiagnosisPrompt(description string) string {
	return fmt.Sprintf(`You are a symptom recognition assistant. Based on the description and any attached photos, produce a diagnosis report.

Description: %s

Respond with a single JSON object and nothing else, in this exact shape:
{
  "condition": "most likely condition",
  "severity": "low, moderate or high",
  "summary": "short plain-language explanation",
  "recommendations": ["concrete next step", "..."]
}`, description)
}
