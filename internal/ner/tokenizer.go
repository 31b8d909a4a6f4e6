package ner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// WordPieceTokenizer implements a BERT-compatible tokenizer that keeps byte
// offsets into the original text for every piece.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
}

// piece is one token with its byte span in the source text.
type piece struct {
	id    int64
	start int
	end   int
}

// window is one model input: ids, attention mask and per-position offsets.
// Offsets of special and padding positions are {-1, -1}.
type window struct {
	ids     []int64
	attn    []int64
	offsets []piece
}

// LoadWordPieceTokenizer builds the tokenizer from vocab.txt.
func LoadWordPieceTokenizer(path string, lowerCase bool) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	return newWordPieceTokenizer(vocab, lowerCase)
}

func newWordPieceTokenizer(vocab map[string]int64, lowerCase bool) (*WordPieceTokenizer, error) {
	for _, special := range []string{"[CLS]", "[SEP]", "[PAD]", "[UNK]"} {
		if _, ok := vocab[special]; !ok {
			return nil, fmt.Errorf("vocab missing %s", special)
		}
	}
	return &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    lowerCase,
		continuation: "##",
		clsID:        vocab["[CLS]"],
		sepID:        vocab["[SEP]"],
		padID:        vocab["[PAD]"],
		unkID:        vocab["[UNK]"],
	}, nil
}

// findVocab looks for vocab.txt in dir or dir/tokenizer.
func findVocab(dir string) (string, error) {
	for _, p := range []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("vocab.txt not found under %s", dir)
}

// tokenize splits text into word pieces with absolute byte offsets.
func (t *WordPieceTokenizer) tokenize(text string) []piece {
	var out []piece
	for _, w := range splitWordsWithOffsets(text) {
		token := w.text
		if t.lowerCase {
			token = strings.ToLower(token)
		}
		// Lowercasing can change byte length for some runes; fall back to the
		// whole-word span when it does.
		sameLen := len(token) == len(w.text)
		for _, p := range t.wordPiece(token) {
			if sameLen {
				out = append(out, piece{id: p.id, start: w.start + p.start, end: w.start + p.end})
			} else {
				out = append(out, piece{id: p.id, start: w.start, end: w.end})
			}
		}
	}
	return out
}

func (t *WordPieceTokenizer) wordPiece(token string) []piece {
	if id, ok := t.vocab[token]; ok {
		return []piece{{id: id, start: 0, end: len(token)}}
	}

	var pieces []piece
	start := 0
	for start < len(token) {
		end := len(token)
		found := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, piece{id: id, start: start, end: end})
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			return []piece{{id: t.unkID, start: 0, end: len(token)}}
		}
	}
	return pieces
}

// windows packs the tokenized text into model inputs of seqLen positions.
// Windows break on word boundaries when possible so no text is dropped.
func (t *WordPieceTokenizer) windows(text string, seqLen int) []window {
	if seqLen < 3 {
		return nil
	}
	pieces := t.tokenize(text)
	if len(pieces) == 0 {
		return nil
	}
	capacity := seqLen - 2

	var out []window
	for len(pieces) > 0 {
		n := len(pieces)
		if n > capacity {
			n = capacity
			// back off to the start of the word straddling the cut
			for n > 1 && pieces[n].start == pieces[n-1].end && !isBoundary(text, pieces[n].start) {
				n--
			}
			if n <= 1 {
				n = capacity
			}
		}
		out = append(out, t.pack(pieces[:n], seqLen))
		pieces = pieces[n:]
	}
	return out
}

func (t *WordPieceTokenizer) pack(pieces []piece, seqLen int) window {
	w := window{
		ids:     make([]int64, seqLen),
		attn:    make([]int64, seqLen),
		offsets: make([]piece, seqLen),
	}
	for i := range w.ids {
		w.ids[i] = t.padID
		w.offsets[i] = piece{start: -1, end: -1}
	}
	w.ids[0], w.attn[0] = t.clsID, 1
	for i, p := range pieces {
		w.ids[i+1] = p.id
		w.attn[i+1] = 1
		w.offsets[i+1] = p
	}
	sep := len(pieces) + 1
	w.ids[sep], w.attn[sep] = t.sepID, 1
	return w
}

func isBoundary(text string, i int) bool {
	if i <= 0 || i >= len(text) {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	next, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(prev) || isPunct(prev) || isPunct(next)
}

type wordSpan struct {
	text  string
	start int
	end   int
}

// splitWordsWithOffsets splits on whitespace and isolates punctuation the way
// BERT basic tokenization does.
func splitWordsWithOffsets(text string) []wordSpan {
	if text == "" {
		return nil
	}
	var spans []wordSpan
	start := -1
	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, wordSpan{text: text[start:end], start: start, end: end})
			start = -1
		}
	}
	for idx, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(idx)
		case isPunct(r):
			flush(idx)
			end := idx + len(string(r))
			spans = append(spans, wordSpan{text: text[idx:end], start: idx, end: end})
		default:
			if start < 0 {
				start = idx
			}
		}
	}
	flush(len(text))
	return spans
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
