package evaluate

import (
	"encoding/json"
	"fmt"
)

const scoreReportSchemaName = "consultation_score_report_v1"

const scoreReportSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": [
    "overall_score",
    "tier",
    "category_scores",
    "strengths",
    "improvements",
    "key_moments",
    "client_satisfaction",
    "deal_outcome",
    "summary"
  ],
  "properties": {
    "overall_score": { "type": "integer" },
    "tier": { "enum": ["A+", "A", "A-", "B+", "B", "B-", "C+", "C", "C-", "D"] },
    "category_scores": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["category", "score", "feedback", "strengths", "weaknesses"],
        "properties": {
          "category": {
            "enum": [
              "Solution Finding",
              "Speed & Responsiveness",
              "Efficiency",
              "Communication",
              "Empathy & Rapport",
              "Closing & Next Steps"
            ]
          },
          "score": { "type": "integer" },
          "feedback": { "type": "string" },
          "strengths": { "type": "array", "items": { "type": "string" } },
          "weaknesses": { "type": "array", "items": { "type": "string" } }
        }
      }
    },
    "strengths": { "type": "array", "items": { "type": "string" } },
    "improvements": { "type": "array", "items": { "type": "string" } },
    "key_moments": { "type": "array", "items": { "type": "string" } },
    "client_satisfaction": { "type": "integer" },
    "deal_outcome": { "enum": ["closed", "lost", "follow_up"] },
    "summary": { "type": "string" }
  }
}`

var scoreReportSchema = mustParseSchema(scoreReportSchemaJSON)

func mustParseSchema(raw string) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		panic(fmt.Sprintf("invalid score report schema: %v", err))
	}
	return schema
}
