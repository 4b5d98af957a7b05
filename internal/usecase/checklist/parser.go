// Package checklist extracts recurring-task directives from the
// human-edited checklist document and watches it for changes.
package checklist

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultKeywords are the directive prefixes recognized out of the box.
var DefaultKeywords = []string{"CRON", "TRIGGER"}

// Directive is one recurring task declared in the checklist.
type Directive struct {
	Trigger string
	Task    string
	Line    int // 1-based
}

// Parser matches lines of the form KEYWORD[<expression>]: <task>. A leading
// list marker (-, *, +) and a checkbox ([ ], [x]) are allowed.
type Parser struct {
	re *regexp.Regexp
}

// NewParser builds a parser for the given keywords, or DefaultKeywords if none.
func NewParser(keywords ...string) *Parser {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(strings.TrimSpace(kw))
	}
	pattern := fmt.Sprintf(`^\s*(?:[-*+]\s+)?(?:\[[ xX]\]\s+)?(?:%s)\[([^\]]+)\]:\s*(.*?)\s*$`, strings.Join(quoted, "|"))
	return &Parser{re: regexp.MustCompile(pattern)}
}

// Parse returns the directives in document order. Lines that do not match,
// or match with an empty task, are ignored.
func (p *Parser) Parse(text string) []Directive {
	var out []Directive
	for i, line := range strings.Split(text, "\n") {
		m := p.re.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		trigger := strings.Join(strings.Fields(m[1]), " ")
		task := strings.TrimSpace(m[2])
		if trigger == "" || task == "" {
			continue
		}
		out = append(out, Directive{Trigger: trigger, Task: task, Line: i + 1})
	}
	return out
}

// Read returns the checklist document, or "" when it does not exist.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checklist: %w", err)
	}
	return string(data), nil
}
