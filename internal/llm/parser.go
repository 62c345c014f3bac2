package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// batchAnswer is one element of the model's JSON array response.
type batchAnswer struct {
	Category   string `json:"category"`
	Row        int    `json:"row"`
	Confidence int    `json:"confidence"`
}

// parseBatchAnswers extracts the JSON array from a response, tolerating
// markdown fences and surrounding prose.
func parseBatchAnswers(content string) ([]batchAnswer, error) {
	content = cleanMarkdownWrapper(content)

	// Models sometimes preface the array with commentary; cut to the
	// outermost brackets.
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var answers []batchAnswer
	if err := json.Unmarshal([]byte(content[start:end+1]), &answers); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if len(answers) == 0 {
		return nil, fmt.Errorf("empty answer array in response")
	}
	return answers, nil
}

// cleanMarkdownWrapper strips ```json fences from a response.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx != -1 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	return strings.TrimSpace(content)
}
