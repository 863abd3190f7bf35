package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestIsSQLiteError(t *testing.T) {
	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}

	tests := []struct {
		name   string
		err    error
		substr string
		want   bool
	}{
		{"wrapped value", fmt.Errorf("insert: %w", constraint), "constraint failed", true},
		{"wrapped pointer", fmt.Errorf("insert: %w", &constraint), "constraint failed", true},
		{"unrelated substring", fmt.Errorf("insert: %w", constraint), "no such table", false},
		{"plain error", errors.New("constraint failed"), "constraint failed", false},
		{"nil", nil, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteError(tt.err, tt.substr); got != tt.want {
				t.Errorf("isSQLiteError(%v, %q) = %v, want %v", tt.err, tt.substr, got, tt.want)
			}
		})
	}
}
