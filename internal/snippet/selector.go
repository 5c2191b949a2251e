package snippet

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectorKind tells how a band selector picks its bands.
type SelectorKind int

const (
	// SelectIndices picks the bands in Ranges.
	SelectIndices SelectorKind = iota
	// SelectExclude picks every band not in Ranges.
	SelectExclude
	// SelectName picks the band called Name.
	SelectName
	// SelectWavelength picks the band whose centre is nearest Wavelength.
	SelectWavelength
	// SelectIndexOrWavelength is a bare integer. It is a band number when
	// the source has that many bands and a wavelength otherwise.
	SelectIndexOrWavelength
)

// IndexRange is an inclusive range of 1-based band numbers.
type IndexRange struct {
	First int
	Last  int
}

// BandSelector is one `S@<selector>` reference found in the snippet.
type BandSelector struct {
	Source string
	// Text is the selector as written, without the leading '@'.
	Text string
	// Var is the variable the reference was replaced with.
	Var        string
	Kind       SelectorKind
	Ranges     []IndexRange
	Name       string
	Wavelength float64
}

// String returns the reference as written in the snippet.
func (s *BandSelector) String() string { return s.Source + "@" + s.Text }

// parseSelector reads the selector that starts at s[pos], right after '@'.
// It returns the selector and the offset just past it.
func parseSelector(s string, pos int) (*BandSelector, int, error) {
	if pos >= len(s) {
		return nil, pos, fmt.Errorf("missing band selector after '@'")
	}

	sel := &BandSelector{}
	end := pos
	switch c := s[pos]; {
	case c == '"' || c == '\'':
		end = skipString(s, pos)
		if end > len(s) || end-pos < 2 || s[end-1] != c {
			return nil, pos, fmt.Errorf("unterminated band name in selector")
		}
		name, err := unquote(s[pos:end])
		if err != nil {
			return nil, pos, err
		}
		if name == "" {
			return nil, pos, fmt.Errorf("empty band name in selector")
		}
		sel.Kind, sel.Name = SelectName, name
	case c == '^':
		ranges, n, err := parseRanges(s, pos+1)
		if err != nil {
			return nil, pos, err
		}
		sel.Kind, sel.Ranges, end = SelectExclude, ranges, n
	case isDigit(c) || c == '.':
		n := pos
		for n < len(s) && (isDigit(s[n]) || s[n] == '.') {
			n++
		}
		num := s[pos:n]
		switch {
		case strings.HasPrefix(s[n:], "nm"):
			wl, err := parseWavelength(num)
			if err != nil {
				return nil, pos, err
			}
			sel.Kind, sel.Wavelength, end = SelectWavelength, wl, n+2
		case strings.Contains(num, "."):
			wl, err := parseWavelength(num)
			if err != nil {
				return nil, pos, err
			}
			sel.Kind, sel.Wavelength, end = SelectWavelength, wl, n
		case n < len(s) && (s[n] == ':' || s[n] == '|' || (s[n] == ',' && n+1 < len(s) && isDigit(s[n+1]))):
			ranges, m, err := parseRanges(s, pos)
			if err != nil {
				return nil, pos, err
			}
			sel.Kind, sel.Ranges, end = SelectIndices, ranges, m
		default:
			v, err := strconv.Atoi(num)
			if err != nil || v < 1 {
				return nil, pos, fmt.Errorf("band number %q must be a positive integer", num)
			}
			sel.Kind, sel.Ranges, sel.Wavelength, end = SelectIndexOrWavelength, []IndexRange{{v, v}}, float64(v), n
		}
	default:
		return nil, pos, fmt.Errorf("malformed band selector %q", tail(s, pos))
	}

	if end < len(s) && isIdentChar(s[end]) {
		return nil, pos, fmt.Errorf("malformed band selector %q", tail(s, pos))
	}
	sel.Text = s[pos:end]
	return sel, end, nil
}

// parseRanges reads `1`, `2:4`, `1|3`, `1,3|5:6` starting at s[pos].
func parseRanges(s string, pos int) ([]IndexRange, int, error) {
	var ranges []IndexRange
	i := pos
	for {
		first, n, err := parseBandNumber(s, i)
		if err != nil {
			return nil, pos, err
		}
		r := IndexRange{First: first, Last: first}
		i = n
		if i < len(s) && s[i] == ':' {
			last, m, err := parseBandNumber(s, i+1)
			if err != nil {
				return nil, pos, err
			}
			if last < first {
				return nil, pos, fmt.Errorf("band range %d:%d is descending", first, last)
			}
			r.Last, i = last, m
		}
		ranges = append(ranges, r)

		if i < len(s) && (s[i] == '|' || (s[i] == ',' && i+1 < len(s) && isDigit(s[i+1]))) {
			i++
			continue
		}
		return ranges, i, nil
	}
}

func parseBandNumber(s string, pos int) (int, int, error) {
	n := pos
	for n < len(s) && isDigit(s[n]) {
		n++
	}
	if n == pos {
		return 0, pos, fmt.Errorf("expected a band number in selector %q", tail(s, pos))
	}
	v, err := strconv.Atoi(s[pos:n])
	if err != nil || v < 1 {
		return 0, pos, fmt.Errorf("band number %q must be a positive integer", s[pos:n])
	}
	return v, n, nil
}

func parseWavelength(num string) (float64, error) {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("wavelength %q must be a positive number", num)
	}
	return v, nil
}

func unquote(q string) (string, error) {
	if q[0] == '\'' {
		return strings.ReplaceAll(q[1:len(q)-1], `\'`, `'`), nil
	}
	v, err := strconv.Unquote(q)
	if err != nil {
		return "", fmt.Errorf("invalid band name %s: %w", q, err)
	}
	return v, nil
}

func tail(s string, pos int) string {
	end := min(pos+12, len(s))
	return s[pos:end]
}
