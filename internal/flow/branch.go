package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Option list formatting for text-only channels.
const (
	// OptionFormat is the format string for a numbered option line
	OptionFormat = "\n%d. %s"
)

// FormatOptions appends the options to body as a numbered list.
func FormatOptions(body string, options []string) string {
	var sb strings.Builder
	sb.WriteString(body)
	for i, opt := range options {
		fmt.Fprintf(&sb, OptionFormat, i+1, opt)
	}
	return sb.String()
}

// ResolveOptionNumbers turns an answer made only of option numbers, such as
// "1, 3", into the matching labels. Any other answer is returned unchanged.
func ResolveOptionNumbers(answer string, options []string) string {
	if len(options) == 0 {
		return answer
	}
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n'
	})
	if len(fields) == 0 {
		return answer
	}
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSuffix(f, "."))
		if err != nil || n < 1 || n > len(options) {
			return answer
		}
		labels = append(labels, options[n-1])
	}
	return strings.Join(labels, ", ")
}
