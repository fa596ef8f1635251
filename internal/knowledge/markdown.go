package knowledge

import (
	"strings"
)

// Section is one header-delimited part of a markdown document.
type Section struct {
	Title string
	Body  string
}

// SplitMarkdown splits content on level-one and level-two headers. Text
// before the first header belongs to a section titled "General". A header
// immediately followed by another header yields a section with an empty body;
// callers decide whether to keep it.
func SplitMarkdown(content string) []Section {
	var (
		out     []Section
		current = Section{Title: "General"}
		body    []string
		started bool
	)
	flush := func() {
		if started || len(body) > 0 {
			current.Body = strings.TrimSpace(strings.Join(body, "\n"))
			out = append(out, current)
		}
	}
	for line := range strings.Lines(content) {
		line = strings.TrimRight(line, "\r\n")
		title, ok := headerTitle(line)
		if !ok {
			body = append(body, line)
			continue
		}
		flush()
		current = Section{Title: title}
		body = nil
		started = true
	}
	flush()

	// Drop a leading "General" section that only held blank lines.
	if len(out) > 0 && out[0].Title == "General" && out[0].Body == "" && len(out) > 1 {
		out = out[1:]
	}
	return out
}

func headerTitle(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "# "):
		return strings.TrimSpace(line[2:]), true
	case strings.HasPrefix(line, "## "):
		return strings.TrimSpace(line[3:]), true
	}
	return "", false
}
