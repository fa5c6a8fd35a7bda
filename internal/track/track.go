// Package track describes the fixed set of challenge tracks: their submission
// file extension, leaderboard columns, sentinel values, and which direction
// counts as an improvement.
package track

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ID identifies a challenge track.
type ID string

const (
	MatrixCompletion ID = "matrix-completion"
	Estimation       ID = "estimation"
	Fire             ID = "fire"
	Translation      ID = "translation"
)

// FIDSentinel is the worst-case FID recorded when the distribution distance
// cannot be computed.
const FIDSentinel = 1000.0

// TranslationEmptyScore is reported for a translation submission when the
// truth mapping lists no items.
const TranslationEmptyScore = 1000.0

// ErrUnknown reports a track name that does not match any registered track.
var ErrUnknown = errors.New("unknown track")

// Direction captures which way a metric improves.
type Direction int

const (
	LowerIsBetter Direction = iota
	HigherIsBetter
)

func (d Direction) String() string {
	if d == HigherIsBetter {
		return "higher"
	}
	return "lower"
}

// Better reports whether candidate strictly improves on current.
func (d Direction) Better(candidate, current float64) bool {
	if math.IsNaN(candidate) {
		return false
	}
	if math.IsNaN(current) {
		return true
	}
	if d == HigherIsBetter {
		return candidate > current
	}
	return candidate < current
}

// Column is one leaderboard value together with its "worst possible" default.
type Column struct {
	Name     string
	Sentinel float64
}

// Definition is the static description of one track.
type Definition struct {
	ID        ID
	Extension string
	Primary   string
	Direction Direction
	Columns   []Column
	Table     string
}

// Label returns a human readable title such as "Matrix Completion".
func (d Definition) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(d.ID), "-", " "))
}

// ColumnNames lists the leaderboard columns in display order.
func (d Definition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		names[i] = col.Name
	}
	return names
}

// Sentinels returns a fresh map of worst-case values for every column.
func (d Definition) Sentinels() map[string]float64 {
	values := make(map[string]float64, len(d.Columns))
	for _, col := range d.Columns {
		values[col.Name] = col.Sentinel
	}
	return values
}

// HasColumn reports whether name is one of the track's columns.
func (d Definition) HasColumn(name string) bool {
	for _, col := range d.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

var definitions = []Definition{
	{
		ID:        MatrixCompletion,
		Extension: ".tiff",
		Primary:   "lpips",
		Direction: LowerIsBetter,
		Columns: []Column{
			{Name: "lpips", Sentinel: 1},
			{Name: "psnr", Sentinel: 0},
			{Name: "ssim", Sentinel: 0},
			{Name: "fid", Sentinel: FIDSentinel},
		},
		Table: "matrix_completion_scores",
	},
	{
		ID:        Estimation,
		Extension: ".png",
		Primary:   "pixel",
		Direction: HigherIsBetter,
		Columns: []Column{
			{Name: "pixel", Sentinel: 0},
			{Name: "f1", Sentinel: 0},
			{Name: "iou", Sentinel: 0},
		},
		Table: "estimation_scores",
	},
	{
		ID:        Fire,
		Extension: ".png",
		Primary:   "pixel",
		Direction: HigherIsBetter,
		Columns: []Column{
			{Name: "pixel", Sentinel: 0},
			{Name: "f1", Sentinel: 0},
			{Name: "iou", Sentinel: 0},
		},
		Table: "fire_scores",
	},
	{
		ID:        Translation,
		Extension: ".tiff",
		Primary:   "score",
		Direction: LowerIsBetter,
		Columns: []Column{
			{Name: "score", Sentinel: math.MaxFloat64},
		},
		Table: "translation_scores",
	},
}

// All returns every track definition in fixed order.
func All() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// IDs returns every track identifier in fixed order.
func IDs() []ID {
	ids := make([]ID, len(definitions))
	for i, def := range definitions {
		ids[i] = def.ID
	}
	return ids
}

// Lookup returns the definition for id.
func Lookup(id ID) (Definition, bool) {
	for _, def := range definitions {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

// Parse normalizes a user supplied track name. Underscore spellings such as
// "matrix_completion" are accepted.
func Parse(value string) (ID, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if _, ok := Lookup(ID(normalized)); ok {
		return ID(normalized), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, value)
}

// MustLookup is Lookup for identifiers already validated by Parse.
func MustLookup(id ID) Definition {
	def, ok := Lookup(id)
	if !ok {
		panic(fmt.Sprintf("track %q not registered", id))
	}
	return def
}
