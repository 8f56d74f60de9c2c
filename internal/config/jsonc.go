package config

import "strings"

// StripJSONC removes // and /* */ comments plus trailing commas from JSONC
// content, leaving plain JSON. String contents are never touched.
func StripJSONC(data []byte) []byte {
	input := string(data)
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	inString := false
	for i < len(input) {
		c := input[i]

		if inString {
			result.WriteByte(c)
			if c == '\\' && i+1 < len(input) {
				result.WriteByte(input[i+1])
				i += 2
				continue
			}
			if c == '"' {
				inString = false
			}
			i++
			continue
		}

		switch {
		case c == '"':
			inString = true
			result.WriteByte(c)
			i++

		case c == '/' && i+1 < len(input) && input[i+1] == '/':
			for i < len(input) && input[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(input) && input[i+1] == '*':
			i += 2
			for i+1 < len(input) {
				if input[i] == '*' && input[i+1] == '/' {
					i += 2
					break
				}
				i++
			}

		case c == ',':
			// A comma followed only by whitespace and a closing bracket is a
			// trailing comma; JSON rejects it, JSONC allows it.
			j := i + 1
			for j < len(input) && (input[j] == ' ' || input[j] == '\t' || input[j] == '\n' || input[j] == '\r') {
				j++
			}
			if j < len(input) && (input[j] == '}' || input[j] == ']') {
				i++
				continue
			}
			result.WriteByte(c)
			i++

		default:
			result.WriteByte(c)
			i++
		}
	}

	return []byte(result.String())
}
