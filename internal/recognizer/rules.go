package recognizer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/straja-ai/asclepius/internal/entity"
)

// rule is one pattern for one entity type. When context is set the match only
// counts if one of the keywords appears among the contextWords words preceding it.
type rule struct {
	id           string
	typ          entity.Type
	pattern      *regexp.Regexp
	score        float32
	context      map[string]struct{}
	contextWords int
	validate     func(match string) bool
	// letterBounded rejects matches that touch a letter or digit on either
	// side. regexp's \b is ASCII-only, so Unicode name patterns check here.
	letterBounded bool
}

// nameWord is one capitalized name part: Núñez, McDonald, O'Brien, Smith-Jones.
const nameWord = `\p{Lu}(?:\p{Ll}+(?:\p{Lu}\p{Ll}+)?|['’]\p{Lu}\p{Ll}+)(?:-\p{Lu}(?:\p{Ll}+(?:\p{Lu}\p{Ll}+)?|['’]\p{Lu}\p{Ll}+))?`

const monthNames = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

var personContext = keywords(
	"patient", "pt", "for", "name", "named", "called", "by", "with",
	"mr", "mrs", "ms", "miss", "dr", "doctor", "nurse",
	"son", "daughter", "wife", "husband", "mother", "father", "is", "am",
)

var licenseContext = keywords("license", "licence", "driver", "drivers", "driver's", "dl", "lic")

// nameStopwords are capitalized words that commonly start sentences and are
// never first names on their own.
var nameStopwords = keywords(
	"the", "this", "that", "these", "those", "is", "are", "was", "yes", "no",
	"avoid", "take", "do", "does", "can", "should", "please", "patient",
	"source", "context", "user", "query", "actual", "response", "monday",
	"tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
)

func builtinRules() []rule {
	return []rule{
		{
			id:      "email",
			typ:     entity.EmailAddress,
			pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			score:   1.0,
		},
		{
			id:      "phone_us",
			typ:     entity.PhoneNumber,
			pattern: regexp.MustCompile(`(?:\+?1[\s.\-]?)?(?:\(\d{3}\)\s?|\b\d{3}[\s.\-]?)\d{3}[\s.\-]?\d{4}\b`),
			score:   0.75,
		},
		{
			id:       "ssn",
			typ:      entity.USSSN,
			pattern:  regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b|\b\d{9}\b`),
			score:    0.85,
			validate: validSSN,
		},
		{
			id:           "driver_license",
			typ:          entity.USDriverLicense,
			pattern:      regexp.MustCompile(`\b[A-Z]{1,2}\d{5,12}\b|\b\d{7,12}\b`),
			score:        0.65,
			context:      licenseContext,
			contextWords: 4,
		},
		{
			id:      "date_numeric",
			typ:     entity.DateTime,
			pattern: regexp.MustCompile(`\b\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?)?\b`),
			score:   0.85,
		},
		{
			id:      "date_month_name",
			typ:     entity.DateTime,
			pattern: regexp.MustCompile(`\b` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b|\b\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `\.?(?:,?\s+\d{4})?\b`),
			score:   0.85,
		},
		{
			id:      "time_of_day",
			typ:     entity.DateTime,
			pattern: regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d(?::[0-5]\d)?(?:\s?[AaPp]\.?[Mm]\.?)?\b`),
			score:   0.6,
		},
		{
			id:            "person_honorific",
			typ:           entity.Person,
			pattern:       regexp.MustCompile(`(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?\s+` + nameWord + `(?:\s+` + nameWord + `)?`),
			score:         0.85,
			letterBounded: true,
		},
		{
			id:            "person_context",
			typ:           entity.Person,
			pattern:       regexp.MustCompile(nameWord + `(?:\s+\p{Lu}\.)?\s+` + nameWord),
			score:         0.7,
			context:       personContext,
			contextWords:  2,
			validate:      plausibleName,
			letterBounded: true,
		},
	}
}

func keywords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// precedingWords returns up to n lower-cased words immediately before offset.
func precedingWords(text string, offset, n int) []string {
	if offset <= 0 || n <= 0 {
		return nil
	}
	fields := strings.FieldsFunc(text[:offset], func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	for i := range fields {
		fields[i] = strings.ToLower(fields[i])
	}
	return fields
}

func (r rule) contextSatisfied(text string, start int) bool {
	if len(r.context) == 0 {
		return true
	}
	for _, w := range precedingWords(text, start, r.contextWords) {
		if _, ok := r.context[w]; ok {
			return true
		}
	}
	return false
}

// bounded reports whether the match at [start,end) is not glued to a
// neighbouring letter or digit.
func (r rule) bounded(text string, start, end int) bool {
	if !r.letterBounded {
		return true
	}
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
	}
	if end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return false
		}
	}
	return true
}

func validSSN(match string) bool {
	digits := make([]byte, 0, 9)
	for i := 0; i < len(match); i++ {
		if match[i] >= '0' && match[i] <= '9' {
			digits = append(digits, match[i])
		}
	}
	if len(digits) != 9 {
		return false
	}
	area, group, serial := string(digits[:3]), string(digits[3:5]), string(digits[5:])
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

func plausibleName(match string) bool {
	first := strings.Fields(match)
	if len(first) == 0 {
		return false
	}
	for _, w := range first {
		if _, stop := nameStopwords[strings.ToLower(strings.TrimSuffix(w, "."))]; stop {
			return false
		}
	}
	return true
}
