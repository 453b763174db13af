package provider

import "testing"

func TestResult_Diagnostic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Result
		want string
	}{
		{name: "empty", in: Result{}, want: ""},
		{name: "stdout only", in: Result{Stdout: "sent 3\n"}, want: "sent 3"},
		{name: "stderr first", in: Result{Stdout: "partial", Stderr: "list missing\n"}, want: "list missing\npartial"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.Diagnostic(); got != tt.want {
				t.Errorf("Diagnostic: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short: got %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("Truncate ascii: got %q", got)
	}
	// "é" is two bytes; cutting inside it must back off to the rune start.
	if got := Truncate("aé", 2); got != "a" {
		t.Errorf("Truncate utf-8: got %q", got)
	}
}
