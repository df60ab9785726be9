// Package labels builds the character vocabulary and converts label strings
// to fixed-length index sequences and back.
package labels

import (
	"strings"
	"unicode/utf8"

	"github.com/emirpasic/gods/v2/sets/treeset"
)

// Pad is the reserved padding symbol. It is a single vocabulary entry even
// though it spans several bytes.
const Pad = "<pad>"

const (
	MinLen = 4
	MaxLen = 16
)

// Vocabulary is an ordered list of single-character tokens plus the pad
// token. Characters are Unicode code points.
type Vocabulary []string

// Build collects the distinct characters of all labels in ascending order
// and appends Pad unless a label already contributed it.
func Build(labels []string) Vocabulary {
	set := treeset.New[string]()
	for _, label := range labels {
		for _, r := range label {
			set.Add(string(r))
		}
	}

	vocab := Vocabulary(set.Values())
	if vocab.Index(Pad) < 0 {
		vocab = append(vocab, Pad)
	}
	return vocab
}

// Index returns the position of tok or -1.
func (v Vocabulary) Index(tok string) int {
	for i, t := range v {
		if t == tok {
			return i
		}
	}
	return -1
}

// PadIndex returns the index of the pad token or -1 if it is missing.
func (v Vocabulary) PadIndex() int {
	return v.Index(Pad)
}

// MaxLength returns the longest label length in characters clamped to
// [MinLen, MaxLen].
func MaxLength(labels []string) int {
	n := 0
	for _, label := range labels {
		n = max(n, utf8.RuneCountInString(label))
	}
	return max(MinLen, min(MaxLen, n))
}

// Encode maps every label to exactly maxLen indices. Labels are truncated
// to maxLen, unknown characters map to the pad index and short labels are
// right-padded.
func Encode(labels []string, vocab Vocabulary, maxLen int) [][]int {
	lookup := make(map[string]int, len(vocab))
	for i, tok := range vocab {
		lookup[tok] = i
	}
	pad := lookup[Pad]

	out := make([][]int, len(labels))
	for i, label := range labels {
		row := make([]int, maxLen)
		for j := range row {
			row[j] = pad
		}

		j := 0
		for _, r := range label {
			if j == maxLen {
				break
			}
			if idx, ok := lookup[string(r)]; ok {
				row[j] = idx
			}
			j++
		}
		out[i] = row
	}
	return out
}

// Decode joins the tokens for indices and strips the trailing run of pad
// tokens. Interior pad tokens are kept. Out-of-range indices are clamped.
func Decode(indices []int, vocab Vocabulary, pad string) string {
	tokens := Tokens(indices, vocab)
	tokens = TrimPad(tokens, pad)
	return strings.Join(tokens, "")
}

// Tokens maps indices to vocabulary entries, clamping into range.
func Tokens(indices []int, vocab Vocabulary) []string {
	if len(vocab) == 0 {
		return nil
	}

	tokens := make([]string, len(indices))
	for i, idx := range indices {
		tokens[i] = vocab[max(0, min(len(vocab)-1, idx))]
	}
	return tokens
}

// TrimPad removes the contiguous trailing run of pad from tokens.
func TrimPad(tokens []string, pad string) []string {
	n := len(tokens)
	for n > 0 && tokens[n-1] == pad {
		n--
	}
	return tokens[:n]
}
