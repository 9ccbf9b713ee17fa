package orchestrate

import (
	"encoding/json"
	"regexp"
	"strings"
)

// finishTokens end the delegation loop when the planner names one as the
// next agent (or mentions one without naming any role).
var finishTokens = []string{"finish", "done", "complete", "完成", "结束"}

var (
	jsonObjectRe   = regexp.MustCompile(`(?s)\{.*?\}`)
	wordBoundaryRe = map[string]*regexp.Regexp{}
)

func init() {
	for _, token := range finishTokens {
		if isASCII(token) {
			wordBoundaryRe[token] = regexp.MustCompile(`(?i)\b` + token + `\b`)
		}
	}
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

// ExtractNextRole scans the planner's text for a next-role decision
// against the remaining role set. The empty string means finish.
//
// Resolution order: a JSON object's next_agent field (finish token or
// role name, case-insensitive), then the first role name appearing in
// the text, then a bare finish token, then the first remaining role as
// fail-safe progress. An empty remaining set always finishes.
func ExtractNextRole(text string, remaining []string) string {
	if len(remaining) == 0 {
		return ""
	}

	if match := jsonObjectRe.FindString(text); match != "" {
		var decision struct {
			NextAgent string `json:"next_agent"`
		}
		if err := json.Unmarshal([]byte(match), &decision); err == nil && decision.NextAgent != "" {
			candidate := strings.ToLower(strings.TrimSpace(decision.NextAgent))
			if isFinishToken(candidate) {
				return ""
			}
			for _, role := range remaining {
				if candidate == role {
					return role
				}
			}
		}
	}

	lower := strings.ToLower(text)
	best := ""
	bestIdx := -1
	for _, role := range remaining {
		if idx := strings.Index(lower, role); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = role, idx
		}
	}
	if best != "" {
		return best
	}

	if containsFinishToken(lower) {
		return ""
	}
	return remaining[0]
}

func isFinishToken(candidate string) bool {
	for _, token := range finishTokens {
		if candidate == token {
			return true
		}
	}
	return false
}

func containsFinishToken(lower string) bool {
	for _, token := range finishTokens {
		if re, ok := wordBoundaryRe[token]; ok {
			if re.MatchString(lower) {
				return true
			}
			continue
		}
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// ExtractTodos harvests TODO descriptions from agent output: lines
// prefixed by "todo:" (case-insensitive) or "- [ ]".
func ExtractTodos(text string) []string {
	var todos []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutPrefixFold(line, "todo:"); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				todos = append(todos, rest)
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "- [ ]"); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				todos = append(todos, rest)
			}
		}
	}
	return todos
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
