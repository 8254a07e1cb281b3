// Package protocol implements the line-oriented client protocol: a
// tokenizer for the grammar in spec.md §4.4, a response encoder, and a
// Dispatcher that maps a parsed line onto the Commands interface the
// Engine implements. The package deliberately knows nothing about
// Recorder/Classifier/Engine internals — it only sees the Commands
// interface — mirroring the original network.py's ClientHandler calling
// out to self.engine.* without owning any device/classifier state itself.
package protocol

import "fmt"

// Kind identifies the lexical category a Token was parsed as (spec.md
// §4.4): a bare word, a quoted string, an integer, or a float. Protocol
// errors for type mismatches (spec.md §7) are raised by inspecting Kind.
type Kind int

const (
	Word Kind = iota
	Str
	Int
	Float
)

type Token struct {
	Kind Kind
	s    string
	i    int64
	f    float64
}

func WordToken(s string) Token  { return Token{Kind: Word, s: s} }
func StrToken(s string) Token   { return Token{Kind: Str, s: s} }
func IntToken(i int64) Token    { return Token{Kind: Int, i: i, s: fmt.Sprintf("%d", i)} }
func FloatToken(f float64) Token { return Token{Kind: Float, f: f, s: fmt.Sprintf("%g", f)} }

// IsString reports whether the token is a bare word or quoted string —
// the two kinds network.py treats interchangeably wherever it expects
// type(tokens[0]) == str.
func (t Token) IsString() bool { return t.Kind == Word || t.Kind == Str }

// Raw returns the token's canonical string form, used when a parameter
// value must be forwarded verbatim to a Recorder/Device/Classifier
// parameter setter (which accepts plain strings regardless of the
// token's original lexical kind).
func (t Token) Raw() string {
	switch t.Kind {
	case Word, Str:
		return t.s
	default:
		return t.s
	}
}

func (t Token) AsInt() (int64, bool) {
	if t.Kind == Int {
		return t.i, true
	}
	return 0, false
}

func (t Token) AsFloat() (float64, bool) {
	switch t.Kind {
	case Float:
		return t.f, true
	case Int:
		return float64(t.i), true
	}
	return 0, false
}

func (t Token) String() string { return t.Raw() }
