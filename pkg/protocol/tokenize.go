package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Tokenize splits one line into typed tokens per the grammar in
// spec.md §4.4: whitespace-separated bare words, "quoted strings" with \"
// escapes (unescaped here), optionally-signed integers, and
// optionally-signed decimals. It is a hand-written scanner rather than the
// original's single verbose regex, but recognizes the same four lexical
// classes.
func Tokenize(line string) ([]Token, error) {
	var tokens []Token
	i := 0
	n := len(line)

	for i < n {
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n {
			break
		}

		if line[i] == '"' {
			tok, consumed, err := scanQuoted(line[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += consumed
			continue
		}

		start := i
		for i < n && !isSpace(line[i]) {
			i++
		}
		word := line[start:i]
		tokens = append(tokens, classify(word))
	}

	return tokens, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func scanQuoted(s string) (Token, int, error) {
	// s[0] == '"'
	var sb strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			sb.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '"' {
			return StrToken(sb.String()), i + 1, nil
		}
		sb.WriteByte(c)
		i++
	}
	return Token{}, 0, fmt.Errorf("protocol: unterminated quoted string")
}

func classify(word string) Token {
	if n, err := strconv.ParseInt(word, 10, 64); err == nil && isPlainInteger(word) {
		return IntToken(n)
	}
	if f, err := strconv.ParseFloat(word, 64); err == nil && isPlainFloat(word) {
		return FloatToken(f)
	}
	return WordToken(word)
}

func isPlainInteger(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' {
		i = 1
	}
	if i >= len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isPlainFloat(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' {
		i = 1
	}
	dot := -1
	digitsBefore, digitsAfter := false, false
	for j := i; j < len(s); j++ {
		switch {
		case s[j] == '.' && dot == -1:
			dot = j
		case s[j] >= '0' && s[j] <= '9':
			if dot == -1 {
				digitsBefore = true
			} else {
				digitsAfter = true
			}
		default:
			return false
		}
	}
	return dot != -1 && digitsAfter && (digitsBefore || dot == i)
}
