package protocol

import "testing"

func TestTokenizeKinds(t *testing.T) {
	tokens, err := Tokenize(`DEVICE SET "emulator" 42 -3.5`)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []Kind{Word, Word, Str, Int, Float}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(tokens), len(want), tokens)
	}
	for i, k := range want {
		if tokens[i].Kind != k {
			t.Errorf("token %d: got kind %d, want %d", i, tokens[i].Kind, k)
		}
	}
	if tokens[2].Raw() != "emulator" {
		t.Errorf("quoted token Raw() = %q, want emulator", tokens[2].Raw())
	}
	if n, ok := tokens[3].AsInt(); !ok || n != 42 {
		t.Errorf("int token AsInt() = %d,%v, want 42,true", n, ok)
	}
	if f, ok := tokens[4].AsFloat(); !ok || f != -3.5 {
		t.Errorf("float token AsFloat() = %v,%v, want -3.5,true", f, ok)
	}
}

func TestTokenizeQuotedEscape(t *testing.T) {
	tokens, err := Tokenize(`MARKER switch 1 "say \"hi\""`)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	last := tokens[len(tokens)-1]
	if last.Raw() != `say "hi"` {
		t.Errorf("Raw() = %q, want say \"hi\"", last.Raw())
	}
}

func TestTokenizeUnterminatedQuote(t *testing.T) {
	if _, err := Tokenize(`DEVICE SET "oops`); err == nil {
		t.Fatal("expected error for unterminated quoted string")
	}
}

func TestTokenizeWordNotMisclassified(t *testing.T) {
	// Device/classifier names that contain digits stay words when they
	// fail the strict integer/float grammar ("v2", "v2-emulator", …).
	tokens, err := Tokenize("DEVICE SET v2-emulator")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[2].Kind != Word {
		t.Errorf("got kind %d, want Word", tokens[2].Kind)
	}
}

func TestTokenizeEmptyLine(t *testing.T) {
	tokens, err := Tokenize("   ")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("got %d tokens for blank line, want 0", len(tokens))
	}
}
