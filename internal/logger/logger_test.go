package logger

import "testing"

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "joh***@example.com"},
		{"a@x.com", "a***@x.com"},
		{"", ""},
		{"not-an-email", "***"},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+1234567890", "+12***7890"},
		{"12345", "***2345"},
		{"123", "***"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskPhone(tt.in); got != tt.want {
			t.Errorf("MaskPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskTarget(t *testing.T) {
	if got := MaskTarget("user@example.com"); got != "use***@example.com" {
		t.Errorf("MaskTarget(email) = %q", got)
	}
	if got := MaskTarget("+1234567890"); got != "+12***7890" {
		t.Errorf("MaskTarget(phone) = %q", got)
	}
}

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		l, err := New(env)
		if err != nil {
			t.Fatalf("New(%q): %v", env, err)
		}
		if l == nil {
			t.Fatalf("New(%q) returned nil", env)
		}
	}
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
