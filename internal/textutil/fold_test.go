package textutil

import "testing"

func TestFold(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello", "hello"},
		{"STRASSE", "strasse"},
		{"ÉCOLE", "école"},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSortKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Lunch", "lunch"},
		{"Re: Lunch", "lunch"},
		{"RE: Fwd: re:  Lunch", "lunch"},
		{"Regarding lunch", "regarding lunch"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := SortKey(tt.in); got != tt.want {
			t.Errorf("SortKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("  hello\n\n  world\t again ", 100); got != "hello world again" {
		t.Errorf("Snippet = %q", got)
	}
	if got := Snippet("abcdefghij", 6); got != "abc..." {
		t.Errorf("Snippet truncation = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"日本語テキスト", 5, "日本..."},
		{"abc", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestTruncateWidth(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"hello world", 8, "hello..."},
		{"日本語のテキスト", 8, "日本..."},
		{"two\nlines", 20, "two lines"},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := TruncateWidth(tt.in, tt.width); got != tt.want {
			t.Errorf("TruncateWidth(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
