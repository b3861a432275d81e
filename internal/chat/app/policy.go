package app

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/aelexs/musicroom/internal/domain"
)

// Validate trims raw and checks it against the length rules. The trimmed
// content is returned.
func Validate(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > domain.MaxMessageLength {
		return "", domain.ErrMessageTooLong
	}
	return content, nil
}

// Filter masks block-listed words. Matching is whole-word and
// case-insensitive; every matched rune becomes the mask rune, so the
// output has the same length and layout as the input.
type Filter struct {
	re    *regexp.Regexp
	terms []string
}

var wordRune = regexp.MustCompile(`^\w$`)

// NewFilter compiles terms into a Filter. Blank terms are skipped. A term
// must begin and end with a word character and must not contain the mask
// rune, otherwise masking would not be idempotent.
func NewFilter(terms []string) (*Filter, error) {
	var clean []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, domain.MaskRune) {
			return nil, fmt.Errorf("%w: blocked term %q contains the mask rune", domain.ErrInvalidInput, term)
		}
		first, _ := utf8.DecodeRuneInString(term)
		last, _ := utf8.DecodeLastRuneInString(term)
		if !wordRune.MatchString(string(first)) || !wordRune.MatchString(string(last)) {
			return nil, fmt.Errorf("%w: blocked term %q must start and end with a word character", domain.ErrInvalidInput, term)
		}
		clean = append(clean, strings.ToLower(term))
	}
	slices.Sort(clean)
	clean = slices.Compact(clean)

	f := &Filter{terms: clean}
	if len(clean) == 0 {
		return f, nil
	}

	// Longest first so a longer phrase wins over its own prefix.
	alts := slices.Clone(clean)
	slices.SortStableFunc(alts, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	for i, term := range alts {
		alts[i] = regexp.QuoteMeta(term)
	}
	f.re = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
	return f, nil
}

// Terms returns the normalized block list.
func (f *Filter) Terms() []string {
	return slices.Clone(f.terms)
}

// Apply returns s with every blocked word masked.
func (f *Filter) Apply(s string) string {
	if f == nil || f.re == nil {
		return s
	}
	return f.re.ReplaceAllStringFunc(s, func(match string) string {
		return strings.Repeat(string(domain.MaskRune), utf8.RuneCountInString(match))
	})
}
