package app

import "strings"

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// markdownToHTML renders the small markdown subset used in admin replies:
// fenced code blocks, inline code and bold.
func markdownToHTML(md string) string {
	var out strings.Builder
	inCode := false
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "```") {
			if !inCode {
				out.WriteString("<pre><code>")
			} else {
				out.WriteString("</code></pre>")
			}
			inCode = !inCode
			continue
		}
		out.WriteString(htmlEscaper.Replace(line))
		out.WriteString("\n")
	}
	if inCode {
		out.WriteString("</code></pre>")
	}
	result := out.String()

	result = replaceOutsidePre(result, func(s string) string {
		s = replaceDelimited(s, "`", "<code>", "</code>")
		s = replaceDelimited(s, "**", "<strong>", "</strong>")
		return strings.ReplaceAll(s, "\n", "<br/>")
	})
	return strings.TrimSuffix(result, "<br/>")
}

// replaceOutsidePre applies fn to the text between <pre> blocks only.
func replaceOutsidePre(s string, fn func(string) string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "<pre>")
		if start == -1 {
			b.WriteString(fn(s))
			return b.String()
		}
		end := strings.Index(s[start:], "</pre>")
		if end == -1 {
			b.WriteString(fn(s[:start]))
			b.WriteString(s[start:])
			return b.String()
		}
		end += start + len("</pre>")
		b.WriteString(fn(s[:start]))
		b.WriteString(s[start:end])
		s = s[end:]
	}
}

// replaceDelimited replaces paired occurrences of delim with open/close tags.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim)
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
