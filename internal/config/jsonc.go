package config

// StripJSONComments removes // line comments and /* block comments, and
// trailing commas before a closing } or ], from raw JSON-with-comments
// text, respecting string literals (so a "//" or trailing "," inside a
// quoted string is left untouched) and escaped quotes within strings.
//
// No JSONC/json5 parsing library exists anywhere in this module's dependency
// surface, so both are stripped by small byte scanners before handing the
// result to encoding/json.
func StripJSONComments(src []byte) []byte {
	return stripTrailingCommas(stripComments(src))
}

func stripComments(src []byte) []byte {
	out := make([]byte, 0, len(src))

	inString := false
	inLineComment := false
	inBlockComment := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]
		var next byte
		if i+1 < len(src) {
			next = src[i+1]
		}

		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
				out = append(out, c)
			}
			continue

		case inBlockComment:
			if c == '*' && next == '/' {
				inBlockComment = false
				i++
			}
			continue

		case inString:
			out = append(out, c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue

		default:
			if c == '"' {
				inString = true
				out = append(out, c)
				continue
			}
			if c == '/' && next == '/' {
				inLineComment = true
				i++
				continue
			}
			if c == '/' && next == '*' {
				inBlockComment = true
				i++
				continue
			}
			out = append(out, c)
		}
	}

	return out
}

// stripTrailingCommas drops a comma that, ignoring interleaved whitespace,
// is immediately followed by a closing } or ] — the one JSON5-ism config
// authors reach for alongside comments that encoding/json otherwise rejects
// outright. Runs after stripComments, so it only has to track string state.
func stripTrailingCommas(src []byte) []byte {
	out := make([]byte, 0, len(src))

	inString := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}

		if c == ',' {
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == '}' || src[j] == ']') {
				continue
			}
		}

		out = append(out, c)
	}

	return out
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
