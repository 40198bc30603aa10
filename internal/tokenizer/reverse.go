package tokenizer

// ReverseVocab maps ids back to token strings. Padding and unknown ids map to
// the empty string so they vanish from decoded output.
type ReverseVocab struct {
	tokens []string
}

func NewReverseVocab(t *Tokenizer) *ReverseVocab {
	tokens := append([]string(nil), t.Vocab.Tokens...)
	tokens[t.PadID] = ""
	tokens[t.UnkID] = ""
	return &ReverseVocab{tokens: tokens}
}

func (r *ReverseVocab) Lookup(id int) string {
	if id < 0 || id >= len(r.tokens) {
		return ""
	}
	return r.tokens[id]
}

func (r *ReverseVocab) Tokens(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = r.Lookup(id)
	}
	return out
}
