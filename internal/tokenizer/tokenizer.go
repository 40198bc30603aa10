package tokenizer

import (
	"fmt"
	"strings"
)

const (
	PadToken  = "[PAD]"
	UnkToken  = "[UNK]"
	CLSToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"
)

type Tokenizer struct {
	Vocab *Vocab

	PadID  int
	UnkID  int
	CLSID  int
	SepID  int
	MaskID int // -1 when the vocabulary has no mask token

	basic     BasicTokenizer
	wordpiece WordPiece
}

type Option func(*Tokenizer)

// WithLowerCase lowercases and strips accents before wordpiece splitting.
func WithLowerCase(lower bool) Option {
	return func(t *Tokenizer) {
		t.basic.Lower = lower
	}
}

func New(vocab *Vocab, opts ...Option) (*Tokenizer, error) {
	t := &Tokenizer{
		Vocab: vocab,
		basic: BasicTokenizer{Lower: true},
	}
	for _, o := range opts {
		o(t)
	}

	required := []struct {
		token string
		dst   *int
	}{
		{PadToken, &t.PadID},
		{UnkToken, &t.UnkID},
		{CLSToken, &t.CLSID},
		{SepToken, &t.SepID},
	}
	for _, r := range required {
		id, ok := vocab.ID(r.token)
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", r.token)
		}
		*r.dst = id
	}

	t.MaskID = -1
	if id, ok := vocab.ID(MaskToken); ok {
		t.MaskID = id
	}

	t.wordpiece = WordPiece{Vocab: vocab, UnkToken: UnkToken, MaxCharsPerWord: 100}
	return t, nil
}

func Load(path string, opts ...Option) (*Tokenizer, error) {
	v, err := LoadVocab(path)
	if err != nil {
		return nil, err
	}
	return New(v, opts...)
}

// ID returns the id of a token that must exist, such as [ATTN] or [NOISE].
func (t *Tokenizer) ID(token string) (int, error) {
	id, ok := t.Vocab.ID(token)
	if !ok {
		return 0, fmt.Errorf("token %q not in vocabulary", token)
	}
	return id, nil
}

func (t *Tokenizer) Tokenize(text string) []string {
	var out []string
	for _, word := range t.basic.Tokenize(text) {
		out = append(out, t.wordpiece.Tokenize(word)...)
	}
	return out
}

func (t *Tokenizer) Encode(text string) []int {
	return t.ConvertTokensToIDs(t.Tokenize(text))
}

func (t *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	return t.Vocab.Lookup(tokens, t.UnkID)
}

// EncodePretokenized looks up whitespace-separated tokens as-is.
func (t *Tokenizer) EncodePretokenized(text string) []int {
	return t.ConvertTokensToIDs(strings.Fields(text))
}

// BuildForErnie wraps ids as [CLS] ids [SEP] with all-zero segment ids.
func (t *Tokenizer) BuildForErnie(ids []int) ([]int, []int) {
	out := make([]int, 0, len(ids)+2)
	out = append(out, t.CLSID)
	out = append(out, ids...)
	out = append(out, t.SepID)
	return out, make([]int, len(out))
}

func (t *Tokenizer) Decode(ids []int) string {
	toks := make([]string, 0, len(ids))
	for _, id := range ids {
		if tok, ok := t.Vocab.Token(id); ok {
			toks = append(toks, tok)
		}
	}
	return strings.Join(toks, " ")
}
