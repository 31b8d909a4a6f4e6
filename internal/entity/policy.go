package entity

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPlaceholder replaces any entity type without a specific mapping.
const DefaultPlaceholder = "<REDACTED>"

// Policy maps entity types to the placeholder substituted for them.
type Policy struct {
	placeholders map[Type]string
	fallback     string
}

// DefaultPolicy returns the stock substitution policy.
func DefaultPolicy() Policy {
	return Policy{
		placeholders: map[Type]string{
			Person:      "<PATIENT_NAME>",
			PhoneNumber: "<PHONE>",
		},
		fallback: DefaultPlaceholder,
	}
}

// NewPolicy builds a policy from raw labels. Unknown entity labels and
// malformed placeholders are rejected. An empty fallback uses DefaultPlaceholder.
func NewPolicy(placeholders map[string]string, fallback string) (Policy, error) {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultPlaceholder
	}
	if err := validatePlaceholder(fallback); err != nil {
		return Policy{}, fmt.Errorf("default placeholder: %w", err)
	}
	p := Policy{
		placeholders: make(map[Type]string, len(placeholders)),
		fallback:     fallback,
	}
	for label, value := range placeholders {
		t, err := ParseType(label)
		if err != nil {
			return Policy{}, err
		}
		if err := validatePlaceholder(value); err != nil {
			return Policy{}, fmt.Errorf("placeholder for %s: %w", t, err)
		}
		p.placeholders[t] = value
	}
	return p, nil
}

// Placeholder returns the replacement token for t.
func (p Policy) Placeholder(t Type) string {
	if v, ok := p.placeholders[t]; ok {
		return v
	}
	if p.fallback == "" {
		return DefaultPlaceholder
	}
	return p.fallback
}

// Placeholders returns every distinct placeholder the policy can emit.
func (p Policy) Placeholders() []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, t := range allTypes {
		add(p.Placeholder(t))
	}
	return out
}

func validatePlaceholder(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("placeholder is empty")
	}
	if !strings.HasPrefix(v, "<") || !strings.HasSuffix(v, ">") {
		return fmt.Errorf("placeholder %q must be wrapped in angle brackets", v)
	}
	return nil
}

// IsZero reports whether p is the unconfigured zero value.
func (p Policy) IsZero() bool {
	return p.placeholders == nil && p.fallback == ""
}
