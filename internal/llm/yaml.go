// SPDX-License-Identifier: MIT

package llm

import (
	"regexp"
	"strings"
)

var (
	// markerPattern strips leftover fence and document markers. The longer
	// alternative must come first so "```yaml" is not split.
	markerPattern = regexp.MustCompile("```yaml|```|---|\\.\\.\\.$")

	// Models love to nest "title:" inside the title value; collapse the four
	// quote combinations plus the bare duplicate.
	nestedTitleDQDQ = regexp.MustCompile(`title:\s*"title:\s*"([^"]+)""?`)
	nestedTitleSQSQ = regexp.MustCompile(`title:\s*'title:\s*'([^']+)''?`)
	nestedTitleDQSQ = regexp.MustCompile(`title:\s*"title:\s*'([^']+)'"?`)
	nestedTitleSQDQ = regexp.MustCompile(`title:\s*'title:\s*"([^"]+)"'?`)
	doubledTitle    = regexp.MustCompile(`(?m)title:\s*title:\s*(.+)$`)

	nonASCIIPattern = regexp.MustCompile(`[^\x00-\x7F]+`)
	tagCharsPattern = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)
)

// sanitizeYAMLResponse rebuilds a model completion into YAML that parses.
// The models return fenced blocks, echoed prompt fragments, duplicated
// field prefixes, stray quoting and multi-line values; the output is always
// a flat document with quoted title and description plus a tags list.
func sanitizeYAMLResponse(responseText string) string {
	text := responseText

	// Fenced block markers around the whole response.
	if strings.HasPrefix(text, "```yaml") {
		text = text[7:]
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	} else if strings.HasPrefix(text, "```") {
		text = text[3:]
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}

	// Some models echo the primed prompt tail back, escape and all.
	if strings.HasPrefix(text, `title: \"`) {
		text = strings.TrimSpace(text[9:])
	}

	// The search prompt primes `title: "` so the completion usually starts
	// mid-value; restore the field name when it is missing.
	if !strings.HasPrefix(text, "title:") && !strings.HasPrefix(text, "title :") {
		text = "title: " + text
	}

	// Anything after a remaining fence is commentary, not YAML.
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[:i]
	}

	clean := markerPattern.ReplaceAllString(strings.TrimSpace(text), "")

	clean = nestedTitleDQDQ.ReplaceAllString(clean, `title: "$1"`)
	clean = nestedTitleSQSQ.ReplaceAllString(clean, `title: '$1'`)
	clean = nestedTitleDQSQ.ReplaceAllString(clean, `title: "$1"`)
	clean = nestedTitleSQDQ.ReplaceAllString(clean, `title: '$1'`)
	clean = doubledTitle.ReplaceAllString(clean, "title: $1")

	var sanitized []string
	currentField := ""

	for _, line := range strings.Split(clean, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}

		switch {
		case strings.HasPrefix(stripped, "title:") || strings.HasPrefix(stripped, "description:"):
			name, value, _ := strings.Cut(stripped, ":")
			value = unquote(strings.TrimSpace(value))

			// Nested prefix that survived the regex pass.
			if name == "title" && strings.HasPrefix(strings.ToLower(value), "title:") {
				value = strings.Trim(strings.TrimSpace(value[6:]), `"'`)
			}

			value = strings.ReplaceAll(value, `"`, `\"`)
			sanitized = append(sanitized, name+`: "`+value+`"`)
			currentField = name

		case strings.HasPrefix(stripped, "tags:"):
			sanitized = append(sanitized, "tags:")
			currentField = "tags"

		case strings.HasPrefix(stripped, "-") && currentField == "tags":
			if tag := slugifyTag(strings.TrimSpace(stripped[1:])); tag != "" {
				sanitized = append(sanitized, "  - "+tag)
			}

		case currentField == "title" || currentField == "description":
			// Continuation of a multi-line value; merge into the quoted
			// line above.
			value := strings.Trim(stripped, `"'`)
			if value != "" && len(sanitized) > 0 {
				prev := sanitized[len(sanitized)-1]
				if strings.HasSuffix(prev, `"`) {
					sanitized[len(sanitized)-1] = prev[:len(prev)-1] + " " + value + `"`
				}
			}
		}
	}

	found := make(map[string]bool, 3)
	for _, line := range sanitized {
		if i := strings.Index(line, ":"); i >= 0 {
			found[strings.TrimSpace(line[:i])] = true
		}
	}
	if !found["title"] {
		sanitized = append(sanitized, `title: "No title provided"`)
	}
	if !found["description"] {
		sanitized = append(sanitized, `description: "No description provided"`)
	}
	if !found["tags"] {
		sanitized = append(sanitized, "tags:", "  - default")
	}

	return strings.Join(sanitized, "\n")
}

// unquote removes one pair of matching outer quotes.
func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// slugifyTag reduces a raw tag to lowercase ASCII with hyphens.
func slugifyTag(raw string) string {
	tag := strings.Trim(raw, `"'`)
	tag = nonASCIIPattern.ReplaceAllString(tag, "")
	tag = tagCharsPattern.ReplaceAllString(tag, "")
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.ReplaceAll(tag, " ", "-")
}
