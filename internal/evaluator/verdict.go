package evaluator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// FailureReasoning is the reasoning of the degraded verdict.
const FailureReasoning = "Evaluation pipeline failed."

const (
	MinScore = 1
	MaxScore = 10
)

// Verdict is the judge's structured opinion of one response.
type Verdict struct {
	Score                 int    `json:"score"`
	HallucinationDetected bool   `json:"hallucination_detected"`
	MissingWarnings       bool   `json:"missing_warnings"`
	Reasoning             string `json:"reasoning"`
}

// Degraded is the verdict returned when evaluation fails.
func Degraded() Verdict {
	return Verdict{Score: 0, Reasoning: FailureReasoning}
}

var (
	errNoJSON       = errors.New("no JSON object in reply")
	errMissingScore = errors.New("score is missing")
)

type rawVerdict struct {
	Score                 *json.Number `json:"score"`
	HallucinationDetected *bool        `json:"hallucination_detected"`
	MissingWarnings       *bool        `json:"missing_warnings"`
	Reasoning             string       `json:"reasoning"`
}

// ParseVerdict extracts a Verdict from the judge's raw reply. Markdown code
// fences are stripped; if the remainder is not JSON the outermost {...} is
// tried. A malformed reply returns KindMalformed, an out-of-range or
// missing score KindInvalid.
func ParseVerdict(reply string) (Verdict, error) {
	cleaned := stripFences(reply)
	raw, err := decode(cleaned)
	if err != nil {
		start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return Verdict{}, &Error{Kind: KindMalformed, Err: errNoJSON}
		}
		if raw, err = decode(cleaned[start : end+1]); err != nil {
			return Verdict{}, &Error{Kind: KindMalformed, Err: err}
		}
	}

	if raw.Score == nil {
		return Verdict{}, &Error{Kind: KindInvalid, Err: errMissingScore}
	}
	score, err := integerScore(*raw.Score)
	if err != nil {
		return Verdict{}, &Error{Kind: KindInvalid, Err: err}
	}

	v := Verdict{Score: score, Reasoning: strings.TrimSpace(raw.Reasoning)}
	if raw.HallucinationDetected != nil {
		v.HallucinationDetected = *raw.HallucinationDetected
	}
	if raw.MissingWarnings != nil {
		v.MissingWarnings = *raw.MissingWarnings
	}
	return v, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func decode(s string) (rawVerdict, error) {
	var raw rawVerdict
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return raw, fmt.Errorf("decode verdict: %w", err)
	}
	if dec.More() {
		return raw, errors.New("decode verdict: trailing data")
	}
	return raw, nil
}

// integerScore accepts 7 and 7.0 but not 7.5, and enforces the 1..10 range.
func integerScore(n json.Number) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("score %q is not a number", n.String())
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("score %v is not an integer", f)
	}
	if f < MinScore || f > MaxScore {
		return 0, fmt.Errorf("score %v outside [%d,%d]", f, MinScore, MaxScore)
	}
	return int(f), nil
}
