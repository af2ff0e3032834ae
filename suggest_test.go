package main

import (
	"errors"
	"testing"
)

func TestRankMatches(t *testing.T) {
	fields := []string{"orders", "test_users", "users", "user_profiles", "my_users"}

	tests := []struct {
		search   string
		expected []string
	}{
		{"user", []string{"users", "user_profiles", "test_users", "my_users"}},
		{"test", []string{"test_users"}},
		{"usr", []string{"test_users", "users", "user_profiles", "my_users"}},
		{"ord", []string{"orders"}},
		{"", fields},
		{"zzz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			got := rankMatches(tt.search, fields)
			if len(got) != len(tt.expected) {
				t.Fatalf("rankMatches(%q) = %v, expected %v", tt.search, got, tt.expected)
			}
			for i := range tt.expected {
				if got[i] != tt.expected[i] {
					t.Errorf("rankMatches(%q)[%d] = %q, expected %q", tt.search, i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestIsPrefixMatch(t *testing.T) {
	tests := []struct {
		search   string
		text     string
		expected bool
	}{
		{"user", "users", true},
		{"user", "test_users", false},
		{"usr", "users", false},
		{"", "users", true},
		{"USERS", "users", true},
	}

	for _, tt := range tests {
		t.Run(tt.search+":"+tt.text, func(t *testing.T) {
			if got := isPrefixMatch(tt.search, tt.text); got != tt.expected {
				t.Errorf("isPrefixMatch(%q, %q) = %v, expected %v", tt.search, tt.text, got, tt.expected)
			}
		})
	}
}

func TestWithSuggestion(t *testing.T) {
	base := errors.New("no relation on rol")

	err := withSuggestion(base, "rol", []string{"tag_ids", "role_id"})
	if !errors.Is(err, base) {
		t.Fatalf("suggestion must wrap the original error")
	}
	if got, want := err.Error(), "no relation on rol (did you mean role_id?)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	err = withSuggestion(base, "xyz", []string{"role_id"})
	if got, want := err.Error(), "no relation on rol (available: role_id)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if err := withSuggestion(base, "xyz", nil); err != base {
		t.Errorf("no candidates should return the error unchanged, got %v", err)
	}
}
