package ner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/asclepius/internal/entity"
	"github.com/straja-ai/asclepius/internal/recognizer"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"patient", "john", "smith", "called", "at", "555", "-", "123", "4567", ".", ",",
	"sm", "##ith", "today",
}

func newTestTokenizer(t *testing.T) *WordPieceTokenizer {
	t.Helper()
	vocab := make(map[string]int64, len(testVocab))
	for i, tok := range testVocab {
		vocab[tok] = int64(i)
	}
	tok, err := newWordPieceTokenizer(vocab, true)
	require.NoError(t, err)
	return tok
}

func TestTokenizeKeepsByteOffsets(t *testing.T) {
	tok := newTestTokenizer(t)
	text := "Patient John Smith, today."
	pieces := tok.tokenize(text)

	var got []string
	for _, p := range pieces {
		got = append(got, text[p.start:p.end])
	}
	assert.Equal(t, []string{"Patient", "John", "Smith", ",", "today", "."}, got)
}

func TestWordPieceContinuation(t *testing.T) {
	tok := newTestTokenizer(t)
	pieces := tok.wordPiece("smithx")
	require.Len(t, pieces, 1)
	assert.Equal(t, tok.unkID, pieces[0].id)

	tok.vocab = map[string]int64{"sm": 15, "##ith": 16}
	pieces = tok.wordPiece("smith")
	require.Len(t, pieces, 2)
	assert.Equal(t, piece{id: 15, start: 0, end: 2}, pieces[0])
	assert.Equal(t, piece{id: 16, start: 2, end: 5}, pieces[1])
}

func TestWindowsCoverWholeText(t *testing.T) {
	tok := newTestTokenizer(t)
	text := strings.Repeat("john smith ", 10)
	wins := tok.windows(text, 6)
	require.Len(t, wins, 5)

	var covered int
	for _, w := range wins {
		assert.Len(t, w.ids, 6)
		assert.Equal(t, tok.clsID, w.ids[0])
		for i, off := range w.offsets {
			if off.start >= 0 {
				covered++
				assert.Equal(t, int64(1), w.attn[i])
			}
		}
	}
	assert.Equal(t, 20, covered)
}

func TestNewWordPieceTokenizerRequiresSpecials(t *testing.T) {
	_, err := newWordPieceTokenizer(map[string]int64{"[CLS]": 0}, true)
	assert.Error(t, err)
}

func TestSplitLabel(t *testing.T) {
	tests := []struct {
		in, prefix, typ string
	}{
		{"B-PER", "B", "PER"},
		{"i-EMAIL", "I", "EMAIL"},
		{"O", "", "O"},
		{"PHONE-NUMBER", "", "PHONE-NUMBER"},
		{"", "", ""},
	}
	for _, tc := range tests {
		p, typ := splitLabel(tc.in)
		assert.Equal(t, tc.prefix, p, tc.in)
		assert.Equal(t, tc.typ, typ, tc.in)
	}
}

func TestDecodeBIO(t *testing.T) {
	tokens := []tokenLabel{
		{label: "O", offset: piece{start: -1, end: -1}},
		{label: "O", score: 0.9, offset: piece{start: 0, end: 7}},
		{label: "B-PER", score: 0.8, offset: piece{start: 8, end: 12}},
		{label: "I-PER", score: 0.6, offset: piece{start: 13, end: 18}},
		{label: "B-SECRET", score: 0.9, offset: piece{start: 19, end: 25}},
		{label: "I-PHONE", score: 0.5, offset: piece{start: 26, end: 38}},
	}
	got := decodeBIO(tokens, DefaultLabelMap(), "ner:test")
	require.Len(t, got, 2)

	assert.Equal(t, entity.Person, got[0].Type)
	assert.Equal(t, 8, got[0].Start)
	assert.Equal(t, 18, got[0].End)
	assert.InDelta(t, 0.7, got[0].Score, 0.001)

	assert.Equal(t, entity.PhoneNumber, got[1].Type)
	assert.Equal(t, "ner:test", got[1].Source)
}

func TestLoadModelMeta(t *testing.T) {
	t.Run("config id2label", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{"id2label":{"0":"O","1":"B-PER","2":"I-PER"},"type_vocab_size":2}`)
		meta, err := loadModelMeta(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"O", "B-PER", "I-PER"}, meta.Labels)
		assert.True(t, meta.RequiresTokenType)
	})

	t.Run("label_map overrides", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{"id2label":{"0":"O"}}`)
		writeFile(t, dir, "label_map.json", `["O","B-EMAIL","I-EMAIL"]`)
		meta, err := loadModelMeta(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"O", "B-EMAIL", "I-EMAIL"}, meta.Labels)
	})

	t.Run("missing labels", func(t *testing.T) {
		_, err := loadModelMeta(t.TempDir())
		assert.Error(t, err)
	})
}

func TestParseLabelMap(t *testing.T) {
	m, err := ParseLabelMap(map[string]string{"patient": "person"})
	require.NoError(t, err)
	assert.Equal(t, entity.Person, m["PATIENT"])

	_, err = ParseLabelMap(map[string]string{"X": "CREDIT_CARD"})
	assert.Error(t, err)
}

func TestLoadFailsWithoutModel(t *testing.T) {
	_, err := Load(Config{ModelDir: t.TempDir()}, nil)
	assert.Error(t, err)

	_, err = Load(Config{}, nil)
	assert.Error(t, err)
}

// fakeInferer labels every position whose token id matches a rule.
type fakeInferer struct {
	numLabels int
	byID      map[int64]int
	err       error
	destroyed bool
}

func (f *fakeInferer) infer(ids, _ []int64) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, len(ids)*f.numLabels)
	for i, id := range ids {
		lbl := f.byID[id]
		out[i*f.numLabels+lbl] = 5
	}
	return out, nil
}

func (f *fakeInferer) destroy() { f.destroyed = true }

func newFakeModel(t *testing.T, inf inferer) *Model {
	t.Helper()
	sessions := make(chan inferer, 1)
	sessions <- inf
	labels := []string{"O", "B-PER", "I-PER", "B-PHONE", "I-PHONE"}
	return newModel("fake", newTestTokenizer(t), labels, nil, 16, sessions)
}

func TestModelAnalyze(t *testing.T) {
	// john, smith, then 555 - 123 - 4567
	inf := &fakeInferer{numLabels: 5, byID: map[int64]int{
		5: 1, 6: 2,
		9: 3, 10: 4, 11: 4, 12: 4,
	}}
	m := newFakeModel(t, inf)
	text := "Patient John Smith called at 555-123-4567."

	got, err := m.Analyze(context.Background(), text, entity.All(), "en")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "John Smith", text[got[0].Start:got[0].End])
	assert.Equal(t, "555-123-4567", text[got[1].Start:got[1].End])

	got, err = m.Analyze(context.Background(), text, []entity.Type{entity.PhoneNumber}, "en")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entity.PhoneNumber, got[0].Type)

	m.Close()
	assert.True(t, inf.destroyed)
}

func TestModelAnalyzeErrors(t *testing.T) {
	boom := errors.New("run failed")
	m := newFakeModel(t, &fakeInferer{numLabels: 5, err: boom})

	_, err := m.Analyze(context.Background(), "john", entity.All(), "en")
	assert.ErrorIs(t, err, boom)

	_, err = m.Analyze(context.Background(), "john", entity.All(), "de")
	assert.ErrorIs(t, err, recognizer.ErrUnsupportedLanguage)

	// the session was returned to the pool after the failure
	<-m.sessions
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Analyze(ctx, "john", entity.All(), "en")
	assert.ErrorIs(t, err, context.Canceled)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}
