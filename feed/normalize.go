package feed

import (
	"regexp"
	"strings"
)

// Combined title+content budget for a caption, in characters.
const captionBudget = 900

var spoilerPattern = regexp.MustCompile(`<spoiler>(.*?)</spoiler>`)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// normalizeText converts embedded spoiler markup to the destination's native
// spoiler syntax and escapes HTML-significant characters. The spoiler
// substitution has to happen first or the markup would be escaped away.
func normalizeText(text string) string {
	text = spoilerPattern.ReplaceAllString(text, "||$1||")
	return htmlEscaper.Replace(text)
}

// truncate enforces the combined caption budget over title and content. When
// the title alone blows the budget the content is elided entirely; otherwise
// the content is cut to the remaining budget. Truncated text ends in an
// ellipsis marker.
func truncate(title, content string) (string, string) {
	titleRunes := []rune(title)
	contentRunes := []rune(content)

	if len(titleRunes)+len(contentRunes) <= captionBudget {
		return title, content
	}

	if len(titleRunes) > captionBudget {
		return ellipsize(titleRunes, captionBudget), ""
	}

	remaining := captionBudget - len(titleRunes)
	return title, ellipsize(contentRunes, remaining)
}

// ellipsize cuts runes to limit, replacing the final three characters with
// an ellipsis marker.
func ellipsize(runes []rune, limit int) string {
	if len(runes) <= limit {
		return string(runes)
	}
	if limit <= 3 {
		return "..."[:max(limit, 0)]
	}
	return string(runes[:limit-3]) + "..."
}
