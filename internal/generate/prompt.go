package generate

import "strings"

// Prompt holds the natural-language pieces wrapped around the submitted code.
// Build always emits them in the same order: instructions, code, closing ask.
// The model relies on that order to put the test case count on the first line.
type Prompt struct {
	Role    string
	Task    string
	Format  string
	Closing string
}

// DefaultPrompt is the wording used when no override is configured.
var DefaultPrompt = Prompt{
	Role:    "You are a code testing assistant with knowledge of all programming languages.",
	Task:    "Please generate test cases for the following code according to the latest industry standards.",
	Format:  "Generate the test cases with numbers as first test case and what does it do using minimal text. Your output will be displayed in a test case output window, so generate accordingly.",
	Closing: "Provide the number of test cases possible followed by the test cases.",
}

// Build embeds code into the prompt.
func (p Prompt) Build(code string) string {
	var b strings.Builder

	instructions := make([]string, 0, 3)
	for _, s := range []string{p.Role, p.Task, p.Format} {
		if s = strings.TrimSpace(s); s != "" {
			instructions = append(instructions, s)
		}
	}

	b.WriteString(strings.Join(instructions, " "))
	b.WriteString("\n\n")
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(p.Closing))
	return b.String()
}
