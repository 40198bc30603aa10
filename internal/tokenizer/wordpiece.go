package tokenizer

// WordPiece performs greedy longest-match-first subword splitting.
type WordPiece struct {
	Vocab           *Vocab
	UnkToken        string
	MaxCharsPerWord int
}

func (wp WordPiece) Tokenize(word string) []string {
	chars := []rune(word)
	maxChars := wp.MaxCharsPerWord
	if maxChars <= 0 {
		maxChars = 100
	}
	if len(chars) > maxChars {
		return []string{wp.UnkToken}
	}

	var pieces []string
	for start := 0; start < len(chars); {
		end := len(chars)
		match := ""
		for start < end {
			sub := string(chars[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := wp.Vocab.ID(sub); ok {
				match = sub
				break
			}
			end--
		}
		if match == "" {
			return []string{wp.UnkToken}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}
