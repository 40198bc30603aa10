package tokenizer

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

var testTokens = []string{
	"[PAD]", "[CLS]", "[SEP]", "[UNK]", "[MASK]", "[ATTN]", "[NOISE]",
	"hello", "world", "un", "##aff", "##able", ",", "!", "中", "国", "cafe",
}

func writeVocab(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("Failed to write vocab: %v", err)
	}
	return path
}

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tk, err := Load(writeVocab(t, testTokens))
	if err != nil {
		t.Fatalf("Failed to create tokenizer: %v", err)
	}
	return tk
}

func TestLoadSpecialIDs(t *testing.T) {
	tk := newTestTokenizer(t)

	if tk.PadID != 0 || tk.CLSID != 1 || tk.SepID != 2 || tk.UnkID != 3 || tk.MaskID != 4 {
		t.Errorf("unexpected special ids: pad=%d cls=%d sep=%d unk=%d mask=%d",
			tk.PadID, tk.CLSID, tk.SepID, tk.UnkID, tk.MaskID)
	}
	if tk.Vocab.Size() != len(testTokens) {
		t.Errorf("expected vocab size %d, got %d", len(testTokens), tk.Vocab.Size())
	}
	id, err := tk.ID("[ATTN]")
	if err != nil || id != 5 {
		t.Errorf("expected [ATTN]=5, got %d (%v)", id, err)
	}
	if _, err := tk.ID("[NOPE]"); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestLoadTabSeparatedVocab(t *testing.T) {
	lines := make([]string, len(testTokens))
	for i, tok := range testTokens {
		lines[i] = tok + "\t" + "999"
	}
	tk, err := Load(writeVocab(t, lines))
	if err != nil {
		t.Fatalf("Failed to create tokenizer: %v", err)
	}
	if id, _ := tk.Vocab.ID("hello"); id != 7 {
		t.Errorf("expected hello=7 (line index), got %d", id)
	}
}

func TestNewMissingSpecialToken(t *testing.T) {
	_, err := New(NewVocab([]string{"[PAD]", "[CLS]", "[SEP]"}))
	if err == nil {
		t.Fatal("expected error for vocabulary without [UNK]")
	}
}

func TestTokenize(t *testing.T) {
	tk := newTestTokenizer(t)

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"punctuation", "Hello, World!", []string{"hello", ",", "world", "!"}},
		{"wordpiece", "unaffable", []string{"un", "##aff", "##able"}},
		{"cjk", "中国", []string{"中", "国"}},
		{"accents", "Café", []string{"cafe"}},
		{"unknown word", "xyz", []string{"[UNK]"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tk.Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Tokenize(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBasicTokenizerCleansText(t *testing.T) {
	got := BasicTokenizer{Lower: true}.Tokenize("\x00Hello\u200bWorld\tagain")
	expected := []string{"helloworld", "again"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Tokenize = %v, expected %v", got, expected)
	}
}

func TestEncode(t *testing.T) {
	tk := newTestTokenizer(t)

	got := tk.Encode("Hello, World! xyz")
	expected := []int{7, 12, 8, 13, 3}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Encode = %v, expected %v", got, expected)
	}

	got = tk.EncodePretokenized("hello ##aff zzz")
	expected = []int{7, 10, 3}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("EncodePretokenized = %v, expected %v", got, expected)
	}
}

func TestBuildForErnie(t *testing.T) {
	tk := newTestTokenizer(t)

	ids, sids := tk.BuildForErnie([]int{7, 8})
	if !reflect.DeepEqual(ids, []int{1, 7, 8, 2}) {
		t.Errorf("unexpected ids %v", ids)
	}
	if !reflect.DeepEqual(sids, []int{0, 0, 0, 0}) {
		t.Errorf("unexpected segment ids %v", sids)
	}
}

func TestWordPieceLongWord(t *testing.T) {
	wp := WordPiece{Vocab: NewVocab(testTokens), UnkToken: UnkToken, MaxCharsPerWord: 4}
	if got := wp.Tokenize("hello"); !reflect.DeepEqual(got, []string{UnkToken}) {
		t.Errorf("expected [UNK] for over-long word, got %v", got)
	}
}

func TestReverseVocab(t *testing.T) {
	tk := newTestTokenizer(t)
	rev := NewReverseVocab(tk)

	got := rev.Tokens([]int{1, 7, 0, 3, 8, 2, 99, -1})
	expected := []string{"[CLS]", "hello", "", "", "world", "[SEP]", "", ""}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Tokens = %v, expected %v", got, expected)
	}
	if tk.Vocab.Tokens[0] != "[PAD]" {
		t.Error("reverse vocab must not modify the tokenizer vocabulary")
	}
}

func TestDecode(t *testing.T) {
	tk := newTestTokenizer(t)
	if got := tk.Decode([]int{7, 8, 500}); got != "hello world" {
		t.Errorf("Decode = %q", got)
	}
}
