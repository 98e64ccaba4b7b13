package generate

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dontdude/testgen/internal/domain"
)

// SplitReply reshapes a free-text reply into a count and a listing.
// The first line is the count and everything after the first line break is the listing.
// A reply without a line break is returned whole in both fields.
func SplitReply(reply string) domain.Result {
	count, cases, found := strings.Cut(reply, "\n")
	if !found {
		cases = reply
	}

	return domain.Result{
		Count: strings.TrimSpace(count),
		Cases: strings.TrimSpace(cases),
	}
}

// structuredReply mirrors the response schema requested in JSON mode.
type structuredReply struct {
	NumTestCases json.Number `json:"num_test_cases"`
	TestCases    []string    `json:"test_cases"`
}

// ParseStructured decodes a JSON-mode reply.
// It reports false when the reply is not the expected object so callers can fall back to SplitReply.
func ParseStructured(reply string) (domain.Result, bool) {
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	var sr structuredReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &sr); err != nil {
		return domain.Result{}, false
	}
	if sr.TestCases == nil {
		return domain.Result{}, false
	}

	cases := make([]string, 0, len(sr.TestCases))
	for _, c := range sr.TestCases {
		if c = strings.TrimSpace(c); c != "" {
			cases = append(cases, c)
		}
	}

	count := sr.NumTestCases.String()
	if count == "" {
		count = strconv.Itoa(len(cases))
	}

	return domain.Result{
		Count: count,
		Cases: strings.Join(cases, "\n"),
	}, true
}
