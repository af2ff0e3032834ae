package main

import (
	"fmt"
	"strings"
)

// fuzzyMatch reports whether the characters of search appear in order
// within text, ignoring case.
func fuzzyMatch(search, text string) bool {
	search = strings.ToLower(search)
	text = strings.ToLower(text)

	searchIdx := 0
	for _, char := range text {
		if searchIdx < len(search) && char == rune(search[searchIdx]) {
			searchIdx++
		}
	}
	return searchIdx == len(search)
}

func isPrefixMatch(search, text string) bool {
	return strings.HasPrefix(strings.ToLower(text), strings.ToLower(search))
}

// rankMatches filters candidates by search: prefix matches first, then the
// remaining fuzzy matches, each group in candidate order.
func rankMatches(search string, candidates []string) []string {
	if search == "" {
		return candidates
	}
	var prefix, fuzzy []string
	for _, c := range candidates {
		switch {
		case isPrefixMatch(search, c):
			prefix = append(prefix, c)
		case fuzzyMatch(search, c):
			fuzzy = append(fuzzy, c)
		}
	}
	return append(prefix, fuzzy...)
}

// withSuggestion appends the closest candidates for name to err.
func withSuggestion(err error, name string, candidates []string) error {
	if len(candidates) == 0 {
		return err
	}
	if matches := rankMatches(name, candidates); name != "" && len(matches) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(matches, ", "))
	}
	return fmt.Errorf("%w (available: %s)", err, strings.Join(candidates, ", "))
}
