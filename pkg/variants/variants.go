// Package variants parses protein variant notation.
//
// A variant is one or more point substitutions relative to a wild-type sequence,
// written as comma-separated mutations, e.g. "E3K" or "E3K,G102S". The special
// variants "wt" and "_wt" denote the unmutated wild-type.
//
// On the command line several variants are joined with "_", see ParseList.
package variants

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// ListSeparator separates variants in a variants list.
	ListSeparator = "_"

	// MutationSeparator separates the mutations of a single variant.
	MutationSeparator = ","

	// WildType is the canonical name of the unmutated variant.
	WildType = "_wt"
)

// ErrInvalid is returned (wrapped) for malformed variant strings.
var ErrInvalid = errors.New("invalid variant")

// Mutation is a single amino-acid substitution: From at Position is replaced by To.
// Position is in the numbering used by the variant string, before any indexing
// or offset adjustment.
type Mutation struct {
	From     byte
	Position int
	To       byte
}

// String returns the mutation in its canonical "E3K" form.
func (m Mutation) String() string {
	return string(m.From) + strconv.Itoa(m.Position) + string(m.To)
}

// Variant is an ordered set of mutations. An empty Variant is the wild-type.
type Variant struct {
	Mutations []Mutation
}

// IsWildType returns whether the variant has no mutations.
func (v Variant) IsWildType() bool { return len(v.Mutations) == 0 }

// String returns the canonical textual form of the variant.
func (v Variant) String() string {
	if v.IsWildType() {
		return WildType
	}
	parts := make([]string, len(v.Mutations))
	for ii, m := range v.Mutations {
		parts[ii] = m.String()
	}
	return strings.Join(parts, MutationSeparator)
}

// ParseMutation parses a mutation like "A123V".
func ParseMutation(s string) (Mutation, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return Mutation{}, errors.Wrapf(ErrInvalid, "mutation %q is too short", s)
	}
	from, to := s[0], s[len(s)-1]
	if !isLetter(from) || !isLetter(to) {
		return Mutation{}, errors.Wrapf(ErrInvalid, "mutation %q must start and end with an amino-acid letter", s)
	}
	pos, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil {
		return Mutation{}, errors.Wrapf(ErrInvalid, "mutation %q has a non-numeric position", s)
	}
	return Mutation{From: upper(from), Position: pos, To: upper(to)}, nil
}

// Parse parses a single variant, e.g. "E3K,G102S" or "wt".
func Parse(s string) (Variant, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Variant{}, errors.Wrap(ErrInvalid, "empty variant")
	}
	if s == WildType || strings.EqualFold(s, "wt") {
		return Variant{}, nil
	}
	parts := strings.Split(s, MutationSeparator)
	v := Variant{Mutations: make([]Mutation, 0, len(parts))}
	for _, part := range parts {
		m, err := ParseMutation(part)
		if err != nil {
			return Variant{}, errors.WithMessagef(err, "variant %q", s)
		}
		v.Mutations = append(v.Mutations, m)
	}
	return v, nil
}

// SplitList splits a list of variants joined by ListSeparator, preserving order.
// It doesn't validate the individual variants, see ParseList for that.
//
// The string "_wt" on its own is kept as a single wild-type entry.
func SplitList(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, errors.Wrap(ErrInvalid, "empty variants list")
	}
	if list == WildType {
		return []string{WildType}, nil
	}
	parts := strings.Split(list, ListSeparator)
	for ii, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.Wrapf(ErrInvalid, "empty entry #%d in variants list %q", ii, list)
		}
		parts[ii] = part
	}
	return parts, nil
}

// ParseList splits and parses a list of variants joined by ListSeparator.
func ParseList(list string) ([]Variant, error) {
	parts, err := SplitList(list)
	if err != nil {
		return nil, err
	}
	result := make([]Variant, len(parts))
	for ii, part := range parts {
		result[ii], err = Parse(part)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '*'
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
