package entity

import (
	"fmt"
	"strings"
)

// Type is a sensitive entity category the gateway knows how to redact.
type Type string

const (
	Person          Type = "PERSON"
	PhoneNumber     Type = "PHONE_NUMBER"
	EmailAddress    Type = "EMAIL_ADDRESS"
	USSSN           Type = "US_SSN"
	USDriverLicense Type = "US_DRIVER_LICENSE"
	DateTime        Type = "DATE_TIME"
)

var allTypes = []Type{Person, PhoneNumber, EmailAddress, USSSN, USDriverLicense, DateTime}

// All returns every supported entity type in a stable order.
func All() []Type {
	return append([]Type(nil), allTypes...)
}

// Valid reports whether t is one of the supported entity types.
func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// ParseType normalizes a label and rejects anything outside the supported set.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// ParseTypes parses a list of labels, dropping duplicates while keeping order.
func ParseTypes(labels []string) ([]Type, error) {
	out := make([]Type, 0, len(labels))
	seen := make(map[Type]struct{}, len(labels))
	for _, l := range labels {
		t, err := ParseType(l)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Detected is one span found by a recognition engine, with byte offsets [Start, End).
type Detected struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Type   Type    `json:"entity_type"`
	Score  float32 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Len returns the span length in bytes.
func (d Detected) Len() int { return d.End - d.Start }

// Overlaps reports whether two spans share at least one byte.
func (d Detected) Overlaps(o Detected) bool {
	return d.Start < o.End && o.Start < d.End
}

// Set is a lookup over a list of entity types.
type Set map[Type]struct{}

// NewSet builds a Set from types.
func NewSet(types []Type) Set {
	s := make(Set, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set. An empty set matches nothing.
func (s Set) Has(t Type) bool {
	_, ok := s[t]
	return ok
}
