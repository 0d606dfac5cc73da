package extract

import "strings"

// truncationMarker is appended when content is cut.
const truncationMarker = "\n\n[... content truncated ...]"

// Truncate caps content at approximately maxTokens, using the word-based
// approximation 1 token ~ 0.75 words. Content under the cap is returned
// unchanged.
func Truncate(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return content
	}
	words := strings.Fields(content)
	maxWords := int(float64(maxTokens) * 0.75)
	if len(words) <= maxWords {
		return content
	}
	return strings.Join(words[:maxWords], " ") + truncationMarker
}
