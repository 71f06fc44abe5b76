// Package scan splits free-form text into plain text and URL tokens.
package scan

import (
	"strings"
	"unicode"
)

// Marker is the scheme prefix that opens a URL token.
const Marker = "https://"

// Kind classifies a Token.
type Kind int

// Token kinds produced by Next.
const (
	EOF Kind = iota
	Text
	URL
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case URL:
		return "url"
	default:
		return "eof"
	}
}

// Token is a classified span of the input. Value is a substring of the
// scanned text.
type Token struct {
	Kind  Kind
	Value string
}

// Next returns the next token in text and the remainder to scan. Callers feed
// the remainder back in until an EOF token is returned.
func Next(text string) (Token, string) {
	if text == "" {
		return Token{Kind: EOF}, ""
	}
	x := strings.Index(text, Marker)
	if x < 0 {
		return Token{Kind: Text, Value: text}, ""
	}
	if x > 0 {
		return Token{Kind: Text, Value: text[:x]}, text[x:]
	}
	end := len(text)
	for i, r := range text {
		if unicode.IsSpace(r) {
			end = i
			break
		}
		if isDelimiter(r) {
			return Token{Kind: URL, Value: text[:i]}, text[i:]
		}
	}
	// Sentence punctuation directly before whitespace or the end of input
	// belongs to the prose.
	if end > len(Marker) && isTrailingPunct(text[end-1]) {
		end--
	}
	return Token{Kind: URL, Value: text[:end]}, text[end:]
}

// All scans text to EOF and returns the tokens in document order. The EOF
// token is not included.
func All(text string) []Token {
	var toks []Token
	for {
		tok, rest := Next(text)
		if tok.Kind == EOF {
			return toks
		}
		toks = append(toks, tok)
		text = rest
	}
}

func isDelimiter(r rune) bool {
	switch r {
	case ',', ';', '(', ')', '[', ']', '{', '}':
		return true
	}
	return false
}

func isTrailingPunct(b byte) bool {
	return b == '.' || b == ':'
}
