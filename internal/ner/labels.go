package ner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/straja-ai/asclepius/internal/entity"
)

// DefaultLabelMap maps common PII model label names to entity types.
// Labels not present are ignored.
func DefaultLabelMap() map[string]entity.Type {
	return map[string]entity.Type{
		"PER":              entity.Person,
		"PERSON":           entity.Person,
		"NAME":             entity.Person,
		"FIRSTNAME":        entity.Person,
		"LASTNAME":         entity.Person,
		"PHONE":            entity.PhoneNumber,
		"PHONE_NUMBER":     entity.PhoneNumber,
		"PHONENUMBER":      entity.PhoneNumber,
		"EMAIL":            entity.EmailAddress,
		"EMAIL_ADDRESS":    entity.EmailAddress,
		"SSN":              entity.USSSN,
		"US_SSN":           entity.USSSN,
		"DRIVERLICENSENUM": entity.USDriverLicense,
		"DRIVER_LICENSE":   entity.USDriverLicense,
		"DATE":             entity.DateTime,
		"TIME":             entity.DateTime,
		"DOB":              entity.DateTime,
		"DATE_TIME":        entity.DateTime,
	}
}

// ParseLabelMap converts configured label → entity name pairs, rejecting
// unknown entity names.
func ParseLabelMap(raw map[string]string) (map[string]entity.Type, error) {
	out := make(map[string]entity.Type, len(raw))
	for label, name := range raw {
		t, err := entity.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("label %q: %w", label, err)
		}
		out[strings.ToUpper(strings.TrimSpace(label))] = t
	}
	return out, nil
}

type modelMeta struct {
	Labels            []string
	RequiresTokenType bool
}

// loadModelMeta reads label names from config.json (id2label) and lets an
// optional label_map.json override them.
func loadModelMeta(dir string) (modelMeta, error) {
	meta := modelMeta{}
	if data, err := os.ReadFile(filepath.Join(dir, "config.json")); err == nil {
		var cfg struct {
			ID2Label      map[string]string `json:"id2label"`
			Label2ID      map[string]int    `json:"label2id"`
			TypeVocabSize int               `json:"type_vocab_size"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return meta, fmt.Errorf("parse config.json: %w", err)
		}
		meta.Labels = labelsFromIDMap(cfg.ID2Label)
		if len(meta.Labels) == 0 {
			meta.Labels = labelsFromLabel2ID(cfg.Label2ID)
		}
		meta.RequiresTokenType = cfg.TypeVocabSize > 0
	}

	if data, err := os.ReadFile(filepath.Join(dir, "label_map.json")); err == nil {
		var list []string
		if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
			meta.Labels = list
		} else {
			var idMap map[string]string
			if err := json.Unmarshal(data, &idMap); err != nil {
				return meta, fmt.Errorf("parse label_map.json: %w", err)
			}
			meta.Labels = labelsFromIDMap(idMap)
		}
	}

	if len(meta.Labels) == 0 {
		return meta, fmt.Errorf("no token labels found in %s", dir)
	}
	return meta, nil
}

func labelsFromIDMap(id2label map[string]string) []string {
	byID := make(map[int]string, len(id2label))
	for k, v := range id2label {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id < 0 {
			continue
		}
		byID[id] = v
	}
	return denseLabels(byID)
}

func labelsFromLabel2ID(label2id map[string]int) []string {
	byID := make(map[int]string, len(label2id))
	for lbl, id := range label2id {
		if id >= 0 {
			byID[id] = lbl
		}
	}
	return denseLabels(byID)
}

func denseLabels(byID map[int]string) []string {
	maxID := -1
	for id := range byID {
		if id > maxID {
			maxID = id
		}
	}
	if maxID < 0 {
		return nil
	}
	labels := make([]string, maxID+1)
	for id, lbl := range byID {
		labels[id] = lbl
	}
	return labels
}

// splitLabel separates a BIO prefix from the entity label.
func splitLabel(lbl string) (prefix, typ string) {
	lbl = strings.TrimSpace(lbl)
	if lbl == "" {
		return "", ""
	}
	parts := strings.SplitN(lbl, "-", 2)
	if len(parts) == 1 {
		return "", lbl
	}
	if len(parts[0]) == 1 {
		return strings.ToUpper(parts[0]), parts[1]
	}
	return "", lbl
}

// tokenLabel is the argmax label of one input position.
type tokenLabel struct {
	label  string
	score  float32
	offset piece
}

// decodeBIO groups labelled positions into spans. An I- label continuing a span
// of the same type extends it; anything else starts a new span. Scores are the
// mean token probability of the span.
func decodeBIO(tokens []tokenLabel, mapping map[string]entity.Type, source string) []entity.Detected {
	type open struct {
		det   entity.Detected
		sum   float32
		count int
	}
	var out []entity.Detected
	var cur *open
	closeCur := func() {
		if cur != nil {
			cur.det.Score = cur.sum / float32(cur.count)
			out = append(out, cur.det)
			cur = nil
		}
	}

	for _, tok := range tokens {
		if tok.offset.start < 0 || tok.offset.end <= tok.offset.start {
			continue
		}
		prefix, raw := splitLabel(tok.label)
		typ, mapped := mapping[strings.ToUpper(raw)]
		if raw == "" || strings.EqualFold(raw, "O") || !mapped {
			closeCur()
			continue
		}
		if prefix == "B" || cur == nil || cur.det.Type != typ {
			closeCur()
			cur = &open{det: entity.Detected{
				Start:  tok.offset.start,
				End:    tok.offset.end,
				Type:   typ,
				Source: source,
			}}
		}
		if tok.offset.end > cur.det.End {
			cur.det.End = tok.offset.end
		}
		cur.sum += tok.score
		cur.count++
	}
	closeCur()
	return mergeSpans(out)
}

// mergeSpans joins touching or overlapping spans of the same type.
func mergeSpans(in []entity.Detected) []entity.Detected {
	if len(in) == 0 {
		return nil
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Start == in[j].Start {
			return in[i].End < in[j].End
		}
		return in[i].Start < in[j].Start
	})
	out := make([]entity.Detected, 0, len(in))
	cur := in[0]
	for _, d := range in[1:] {
		if d.Start <= cur.End && d.Type == cur.Type {
			if d.End > cur.End {
				cur.End = d.End
			}
			if d.Score > cur.Score {
				cur.Score = d.Score
			}
			continue
		}
		out = append(out, cur)
		cur = d
	}
	return append(out, cur)
}
