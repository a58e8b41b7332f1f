package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

// StripThinkTags drops the reasoning block R1-style models put before the answer.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
}

// ParseDecisions extracts decisions from a model reply. The reply may be an
// array, a single object, fenced, or JSON embedded in prose.
func ParseDecisions(text string) ([]AIDecision, error) {
	body := StripThinkTags(text)
	if m := codeFence.FindStringSubmatch(body); m != nil {
		body = m[1]
	}
	if body == "" || body == "[]" {
		return nil, nil
	}

	for _, candidate := range []string{body, enclosed(body, '[', ']'), enclosed(body, '{', '}')} {
		if candidate == "" {
			continue
		}
		if decisions, ok := decode(candidate); ok {
			return decisions, nil
		}
	}
	return nil, fmt.Errorf("parse decisions: no JSON in %.200q", body)
}

func enclosed(s string, open, close byte) string {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i < 0 || j <= i {
		return ""
	}
	return s[i : j+1]
}

func decode(s string) ([]AIDecision, bool) {
	var list []AIDecision
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list, true
	}
	var one AIDecision
	if err := json.Unmarshal([]byte(s), &one); err == nil {
		return []AIDecision{one}, true
	}
	return nil, false
}
