package fhir

import (
	"fmt"
	"strings"
	"time"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

// ParsedSearch holds a parsed search parameter value with its prefix.
type ParsedSearch struct {
	Prefix SearchPrefix
	Value  string
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100")
func ParseSearchValue(raw string) ParsedSearch {
	if len(raw) >= 2 {
		prefix := SearchPrefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp:
			return ParsedSearch{Prefix: prefix, Value: raw[2:]}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

// DateBounds converts a prefixed date search value into an inclusive
// lower and upper bound. Either bound may be nil. An eq value on a partial
// date covers the whole period it names. gt and sa bound from the start of
// the period, like ge.
func DateBounds(raw string) (from, to *time.Time, err error) {
	parsed := ParseSearchValue(raw)
	t, precision, err := parseFlexDate(parsed.Value)
	if err != nil {
		return nil, nil, err
	}

	switch parsed.Prefix {
	case PrefixGt, PrefixGe, PrefixSa:
		return &t, nil, nil
	case PrefixLt, PrefixLe, PrefixEb:
		return nil, &t, nil
	case PrefixEq, PrefixAp:
		end := precision.end(t)
		return &t, &end, nil
	default:
		return nil, nil, fmt.Errorf("prefix %q is not supported for dates", parsed.Prefix)
	}
}

type datePrecision int

const (
	precisionInstant datePrecision = iota
	precisionDay
	precisionMonth
	precisionYear
)

func (p datePrecision) end(t time.Time) time.Time {
	switch p {
	case precisionDay:
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	case precisionMonth:
		return t.AddDate(0, 1, 0).Add(-time.Nanosecond)
	case precisionYear:
		return t.AddDate(1, 0, 0).Add(-time.Nanosecond)
	default:
		return t
	}
}

// parseFlexDate parses a date string in the FHIR-supported formats and
// reports the precision it was given in.
func parseFlexDate(s string) (time.Time, datePrecision, error) {
	formats := []struct {
		layout    string
		precision datePrecision
	}{
		{time.RFC3339, precisionInstant},
		{"2006-01-02T15:04:05", precisionInstant},
		{"2006-01-02", precisionDay},
		{"2006-01", precisionMonth},
		{"2006", precisionYear},
	}
	for _, f := range formats {
		if t, err := time.Parse(f.layout, s); err == nil {
			return t.UTC(), f.precision, nil
		}
	}
	return time.Time{}, 0, fmt.Errorf("unable to parse date: %s", s)
}
