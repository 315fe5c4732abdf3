package keys

import (
	"regexp"
	"strings"
)

// keyPattern matches the provider's key format: a literal prefix followed by
// exactly 33 characters from the key alphabet.
var keyPattern = regexp.MustCompile(`AIzaSy[A-Za-z0-9\-_]{33}`)

// placeholderWindow is how many bytes after a match start are inspected for
// placeholder markers.
const placeholderWindow = 45

// Extract returns all non-overlapping key candidates found in content.
// Matches followed by an ellipsis or a "YOUR_" marker within the placeholder
// window are discarded; those are documentation and template usages, not
// real secrets.
func Extract(content string) []string {
	var found []string
	for _, loc := range keyPattern.FindAllStringIndex(content, -1) {
		start := loc[0]
		end := start + placeholderWindow
		if end > len(content) {
			end = len(content)
		}
		window := content[start:end]
		if strings.Contains(window, "...") || strings.Contains(strings.ToUpper(window), "YOUR_") {
			continue
		}
		found = append(found, content[loc[0]:loc[1]])
	}
	return found
}
