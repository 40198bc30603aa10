package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Vocab maps tokens to ids. The id of a token is its line index in the
// vocabulary file.
type Vocab struct {
	Tokens []string
	ids    map[string]int
}

func NewVocab(tokens []string) *Vocab {
	v := &Vocab{
		Tokens: tokens,
		ids:    make(map[string]int, len(tokens)),
	}
	for i, tok := range tokens {
		v.ids[tok] = i
	}
	return v
}

func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	v, err := ReadVocab(f)
	if err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	return v, nil
}

// ReadVocab reads one token per line. Lines of the form "token\tid" keep only
// the token column. Reading stops at the first empty line.
func ReadVocab(r io.Reader) (*Vocab, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			break
		}
		tok, _, _ := strings.Cut(line, "\t")
		tokens = append(tokens, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return NewVocab(tokens), nil
}

func (v *Vocab) Size() int {
	return len(v.Tokens)
}

func (v *Vocab) ID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

func (v *Vocab) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.Tokens) {
		return "", false
	}
	return v.Tokens[id], true
}

// Lookup converts tokens to ids, using unk for anything missing.
func (v *Vocab) Lookup(tokens []string, unk int) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		if id, ok := v.ids[tok]; ok {
			ids[i] = id
		} else {
			ids[i] = unk
		}
	}
	return ids
}
