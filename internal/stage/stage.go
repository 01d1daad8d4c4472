package stage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage names one step of the document pipeline.
type Stage string

const (
	Conversion    Stage = "CONVERSION"
	Optimizer     Stage = "OPTIMIZER"
	Chunker       Stage = "CHUNKER"
	FactGenerator Stage = "FACT_GENERATOR"
	Ingestor      Stage = "INGESTOR"

	// Source tags originally uploaded files. It is never scheduled.
	Source Stage = "SOURCE"
)

var order = []Stage{Conversion, Optimizer, Chunker, FactGenerator, Ingestor}

var titleCaser = cases.Title(language.English)

// Order returns the canonical pipeline order.
func Order() []Stage {
	out := make([]Stage, len(order))
	copy(out, order)
	return out
}

// Count is the number of schedulable stages.
func Count() int {
	return len(order)
}

// Parse resolves a stage name case-insensitively. SOURCE is accepted.
func Parse(value string) (Stage, bool) {
	candidate := Stage(strings.ToUpper(strings.TrimSpace(value)))
	if candidate == Source {
		return Source, true
	}
	for _, s := range order {
		if s == candidate {
			return s, true
		}
	}
	return "", false
}

// Index returns the position of s in the canonical order, or -1.
func (s Stage) Index() int {
	for i, candidate := range order {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a schedulable stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Previous returns the stage whose outputs feed s. The first stage has none.
func (s Stage) Previous() (Stage, bool) {
	idx := s.Index()
	if idx <= 0 {
		return "", false
	}
	return order[idx-1], true
}

// Next returns the stage that follows s.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(order) {
		return "", false
	}
	return order[idx+1], true
}

// Last reports whether s completes the pipeline.
func (s Stage) Last() bool {
	return s == order[len(order)-1]
}

// Slug is the lowercase path segment used by the remote worker API and the
// artifact directory layout.
func (s Stage) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", "-"))
}

// Label returns a human readable name, e.g. "Fact Generator".
func (s Stage) Label() string {
	if s == "" {
		return ""
	}
	return titleCaser.String(strings.ToLower(strings.ReplaceAll(string(s), "_", " ")))
}

func (s Stage) String() string {
	return string(s)
}
