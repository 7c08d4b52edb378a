package kiln

import (
	"strings"
	"unicode/utf8"
)

// NormalizePath collapses repeated slashes and resolves "." and ".." segments. The result
// never climbs above the root, and a trailing slash (or a trailing "/." or "/..") is kept.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, `/`))

	if p == `` {
		return ``
	}

	var rooted = strings.HasPrefix(p, `/`)
	var trailing bool
	var stack []string

	for _, segment := range strings.Split(p, `/`) {
		switch segment {
		case ``:
			continue
		case `.`:
			trailing = true
			continue
		case `..`:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}

			trailing = true
			continue
		}

		stack = append(stack, segment)
		trailing = false
	}

	if strings.HasSuffix(p, `/`) {
		trailing = true
	}

	var out = strings.Join(stack, `/`)

	if rooted {
		out = `/` + out
	}

	if trailing && !strings.HasSuffix(out, `/`) && out != `` {
		out += `/`
	}

	return out
}

// DecodeText reverses URL encoding ("+" and %XX) and then decodes the bytes as UTF-8.
// Malformed escapes stay as they are and bytes that are not valid UTF-8 are taken as
// Latin-1 characters, so decoding never fails.
func DecodeText(s string) string {
	var raw = make([]byte, 0, len(s))

	for i := 0; i < len(s); i++ {
		var c = s[i]

		switch c {
		case '+':
			c = ' '
		case '%':
			if i+2 < len(s) {
				if hi, ok := unhex(s[i+1]); ok {
					if lo, ok := unhex(s[i+2]); ok {
						c = hi<<4 | lo
						i += 2
					}
				}
			}
		}

		raw = append(raw, c)
	}

	if utf8.Valid(raw) {
		return string(raw)
	}

	var out strings.Builder

	for len(raw) > 0 {
		if r, size := utf8.DecodeRune(raw); r == utf8.RuneError && size <= 1 {
			out.WriteRune(rune(raw[0]))
			raw = raw[1:]
		} else {
			out.WriteRune(r)
			raw = raw[size:]
		}
	}

	return out.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}

	return 0, false
}

// CleanOptions strips every bracketed option ("[A]", "[acc:x]", ...) from a rule value.
func CleanOptions(s string) string {
	var out strings.Builder
	var depth int

	for _, r := range s {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			out.WriteRune(r)
		}
	}

	return strings.TrimSpace(out.String())
}

// hasOption reports whether a rule carries the given bracketed flag, case-insensitively.
func hasOption(s string, flag string) bool {
	return strings.Contains(strings.ToUpper(s), `[`+strings.ToUpper(flag)+`]`)
}
