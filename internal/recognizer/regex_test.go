package recognizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/asclepius/internal/entity"
)

func spanText(text string, spans []entity.Detected) map[entity.Type][]string {
	out := map[entity.Type][]string{}
	for _, s := range spans {
		out[s.Type] = append(out[s.Type], text[s.Start:s.End])
	}
	return out
}

func TestRegexAnalyze(t *testing.T) {
	engine := NewRegex()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		typ  entity.Type
		want []string
	}{
		{
			name: "email",
			text: "Reach me at john.doe@example.com tomorrow.",
			typ:  entity.EmailAddress,
			want: []string{"john.doe@example.com"},
		},
		{
			name: "phone with dashes",
			text: "Call 555-123-4567 if symptoms worsen.",
			typ:  entity.PhoneNumber,
			want: []string{"555-123-4567"},
		},
		{
			name: "phone with parens",
			text: "Office: (212) 555-0199.",
			typ:  entity.PhoneNumber,
			want: []string{"(212) 555-0199"},
		},
		{
			name: "ssn",
			text: "SSN on file is 123-45-6789.",
			typ:  entity.USSSN,
			want: []string{"123-45-6789"},
		},
		{
			name: "driver license needs context",
			text: "Driver license D1234567 was scanned.",
			typ:  entity.USDriverLicense,
			want: []string{"D1234567"},
		},
		{
			name: "iso date",
			text: "Admitted on 2024-03-15 overnight.",
			typ:  entity.DateTime,
			want: []string{"2024-03-15"},
		},
		{
			name: "month name date",
			text: "Follow up on March 3, 2025 please.",
			typ:  entity.DateTime,
			want: []string{"March 3, 2025"},
		},
		{
			name: "honorific name",
			text: "Seen by Dr. Alice Morgan today.",
			typ:  entity.Person,
			want: []string{"Dr. Alice Morgan"},
		},
		{
			name: "name after patient keyword",
			text: "Patient John Smith reports chest pain.",
			typ:  entity.Person,
			want: []string{"John Smith"},
		},
		{
			name: "accented names after context keyword",
			text: "Is this safe for María José?",
			typ:  entity.Person,
			want: []string{"María José"},
		},
		{
			name: "accented surname after honorific",
			text: "Seen by Dr. Núñez today.",
			typ:  entity.Person,
			want: []string{"Dr. Núñez"},
		},
		{
			name: "apostrophe surname",
			text: "Patient Mary O'Brien arrived.",
			typ:  entity.Person,
			want: []string{"Mary O'Brien"},
		},
		{
			name: "mc prefix and hyphenated surname",
			text: "Discharged with Ellen McDonald-Ruiz on Friday.",
			typ:  entity.Person,
			want: []string{"Ellen McDonald-Ruiz"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spans, err := engine.Analyze(ctx, tc.text, []entity.Type{tc.typ}, "en")
			require.NoError(t, err)
			assert.Equal(t, tc.want, spanText(tc.text, spans)[tc.typ])
		})
	}
}

func TestRegexRejectsInvalidMatches(t *testing.T) {
	engine := NewRegex()
	ctx := context.Background()

	t.Run("ssn with reserved area", func(t *testing.T) {
		spans, err := engine.Analyze(ctx, "ID 666-12-3456", []entity.Type{entity.USSSN}, "en")
		require.NoError(t, err)
		assert.Empty(t, spans)
	})

	t.Run("license without context", func(t *testing.T) {
		spans, err := engine.Analyze(ctx, "Lot number D1234567 expired.", []entity.Type{entity.USDriverLicense}, "en")
		require.NoError(t, err)
		assert.Empty(t, spans)
	})

	t.Run("capitalized words without context", func(t *testing.T) {
		text := "Avoid Ibuprofen. The Emergency Room is open."
		spans, err := engine.Analyze(ctx, text, []entity.Type{entity.Person}, "en")
		require.NoError(t, err)
		assert.Empty(t, spans)
	})
}

func TestRegexNameMustNotTouchLetters(t *testing.T) {
	text := "Logged by taskMr. Smith before rounds."
	spans, err := NewRegex().Analyze(context.Background(), text, []entity.Type{entity.Person}, "en")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestRegexOnlyRequestedTypes(t *testing.T) {
	text := "Email jane@example.org or call 555-123-4567."
	spans, err := NewRegex().Analyze(context.Background(), text, []entity.Type{entity.EmailAddress}, "en")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, entity.EmailAddress, spans[0].Type)
}

func TestRegexUnsupportedLanguage(t *testing.T) {
	_, err := NewRegex().Analyze(context.Background(), "hola", entity.All(), "es")
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))
}

func TestRegexSpansSortedAndDisjoint(t *testing.T) {
	text := "Patient John Smith, DOB 01/02/1980, phone 555-123-4567, email js@example.com"
	spans, err := NewRegex().Analyze(context.Background(), text, entity.All(), "en")
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	for i := 1; i < len(spans); i++ {
		assert.LessOrEqual(t, spans[i-1].End, spans[i].Start)
	}
}

func TestRegexHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRegex().Analyze(ctx, "call 555-123-4567", entity.All(), "en")
	assert.ErrorIs(t, err, context.Canceled)
}
