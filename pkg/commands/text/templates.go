// Package text formats help text for CLI commands.
package text

import (
	"strings"
)

// Indentation is the indentation of example lines in help output.
const Indentation = `  `

// LongDesc strips the surrounding blank lines of a long description and the
// indentation its lines have in common, so descriptions can be written as
// indented raw strings.
func LongDesc(s string) string {
	return strings.Join(dedent(s), "\n")
}

// Examples formats examples like LongDesc and then indents every non-blank line.
func Examples(s string) string {
	lines := dedent(s)
	for i, line := range lines {
		if line != "" {
			lines[i] = Indentation + line
		}
	}

	return strings.Join(lines, "\n")
}

func dedent(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	margin := -1
	for _, line := range lines {
		if line == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	for i, line := range lines {
		if line != "" {
			lines[i] = line[margin:]
		}
	}

	return lines
}
