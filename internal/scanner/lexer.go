package scanner

// codeMask blanks comments out of src and marks which bytes are plain code.
// Bytes inside string, template or regex literals are kept but flagged as
// non-code so declaration keywords are only recognised outside of them.
// Newlines are always preserved so offsets map to the original line numbers.
func codeMask(src []byte) (cleaned []byte, code []bool) {
	cleaned = make([]byte, len(src))
	copy(cleaned, src)
	code = make([]bool, len(src))

	var prev byte // last significant code byte, used for the regex heuristic
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				cleaned[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			cleaned[i], cleaned[i+1] = ' ', ' '
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				if src[i] != '\n' {
					cleaned[i] = ' '
				}
				i++
			}
			if i < len(src) {
				cleaned[i], cleaned[i+1] = ' ', ' '
				i += 2
			}
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(src, i, c)
			prev = c
		case c == '/' && regexAllowedAfter(prev):
			i = skipRegex(src, i)
			prev = '/'
		default:
			code[i] = true
			if !isSpace(c) {
				prev = c
			}
			i++
		}
	}
	return cleaned, code
}

// skipQuoted returns the index just past the literal opened at src[start].
func skipQuoted(src []byte, start int, quote byte) int {
	i := start + 1
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			if quote != '`' {
				return i
			}
		}
		i++
	}
	return i
}

func skipRegex(src []byte, start int) int {
	i := start + 1
	inClass := false
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				return i + 1
			}
		case '\n':
			return i
		}
		i++
	}
	return i
}

// regexAllowedAfter reports whether a slash following prev starts a regex literal.
func regexAllowedAfter(prev byte) bool {
	switch prev {
	case 0, '(', ',', '=', ':', '[', '!', '&', '|', '?', '{', '}', ';', '+', '-', '*', '%', '<', '>', '~', '^':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
