package destcat

import "strings"

// StripHTML removes HTML markup from a synopsis with a single-pass
// scanner tracking tag and quoted-attribute state. The reader app renders
// annotations as plain text, so markup is just noise there. Best-effort:
// quote matching does not pair ' against ", so pathological markup can
// confuse it. It is a filter, not an HTML parser.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	var out strings.Builder
	out.Grow(len(s))
	tag := false
	quote := false
	for _, ch := range s {
		switch {
		case ch == '<' && !quote:
			tag = true
		case ch == '>' && !quote:
			tag = false
		case (ch == '"' || ch == '\'') && tag:
			quote = !quote
		case !tag:
			out.WriteRune(ch)
		}
	}
	return out.String()
}
