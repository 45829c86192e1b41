package embedding

import (
	"bufio"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/internal/config"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// NewTokenizer returns the tokenizer for an ONNX model. An explicit vocabPath
// must load. Without one, vocab.txt next to modelPath is used when present;
// otherwise the SimpleTokenizer fallback is returned.
func NewTokenizer(vocabPath, modelPath string) (Tokenizer, error) {
	if vocabPath == "" && modelPath != "" {
		candidate := filepath.Join(filepath.Dir(modelPath), "vocab.txt")
		if _, err := os.Stat(candidate); err == nil {
			vocabPath = candidate
		}
	}
	if vocabPath == "" {
		return &SimpleTokenizer{}, nil
	}
	tok, err := LoadWordPieceTokenizer(vocabPath)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "embedding.vocab_path", Reason: "cannot load vocabulary", Err: err}
	}
	return tok, nil
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs. The IDs
// do not come from any model vocabulary, so a pretrained model fed with them
// produces vectors of little semantic value. It is only a fallback for when no
// vocabulary file is available.
type SimpleTokenizer struct{}

// Tokenize lowercases text, splits it into words and produces padded token IDs
// up to maxTokens, wrapped in [CLS] and [SEP].
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := SplitWords(strings.ToLower(text))
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = 101 // [CLS]
	attentionMask[0] = 1

	pos := 1
	for _, word := range words {
		if pos >= maxTokens-1 {
			break
		}
		// IDs below 1000 are reserved for special tokens.
		inputIDs[pos] = int64(1000 + HashString(word)%29000)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = 102 // [SEP]
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// Special tokens every WordPiece vocabulary must define, except [PAD].
const (
	tokenPad = "[PAD]"
	tokenUnk = "[UNK]"
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
)

// maxWordRunes bounds the words WordPiece tries to split; longer ones map to [UNK].
const maxWordRunes = 100

// WordPieceTokenizer implements the BERT uncased tokenizer over a vocab.txt
// file: lowercasing, splitting on whitespace and punctuation, CJK characters
// as single tokens, then greedy longest-match WordPiece with "##" continuation
// pieces. Accents are not stripped.
type WordPieceTokenizer struct {
	vocab map[string]int64
	pad   int64
	unk   int64
	cls   int64
	sep   int64
}

// LoadWordPieceTokenizer reads a vocabulary with one token per line; the line
// number is the token ID.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return NewWordPieceTokenizer(tokens)
}

// NewWordPieceTokenizer builds a tokenizer from tokens ordered by ID.
func NewWordPieceTokenizer(tokens []string) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: make(map[string]int64, len(tokens))}
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, dup := t.vocab[tok]; !dup {
			t.vocab[tok] = int64(i)
		}
	}
	var missing []string
	for _, special := range []struct {
		token string
		id    *int64
	}{{tokenUnk, &t.unk}, {tokenCLS, &t.cls}, {tokenSEP, &t.sep}} {
		id, ok := t.vocab[special.token]
		if !ok {
			missing = append(missing, special.token)
			continue
		}
		*special.id = id
	}
	if len(missing) > 0 {
		return nil, errors.New("vocabulary lacks " + strings.Join(missing, ", "))
	}
	t.pad = t.vocab[tokenPad]
	return t, nil
}

// Tokenize produces [CLS] pieces... [SEP] followed by [PAD] up to maxTokens.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	for i := range inputIDs {
		inputIDs[i] = t.pad
	}

	inputIDs[0] = t.cls
	attentionMask[0] = 1
	pos := 1
words:
	for _, word := range basicTokens(text) {
		for _, id := range t.pieces(word) {
			if pos >= maxTokens-1 {
				break words
			}
			inputIDs[pos] = id
			attentionMask[pos] = 1
			pos++
		}
	}
	if pos < maxTokens {
		inputIDs[pos] = t.sep
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// pieces splits one word into the longest vocabulary pieces, left to right.
// A word with any unmatched remainder becomes a single [UNK].
func (t *WordPieceTokenizer) pieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []int64{t.unk}
	}
	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				found = id
				break
			}
		}
		if found < 0 {
			return []int64{t.unk}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// basicTokens lowercases text and splits it on whitespace, punctuation and
// CJK ideographs. Control characters are dropped.
func basicTokens(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r):
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return out
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	return strings.Fields(text)
}

// HashString returns the 64-bit FNV-1a hash of s.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
