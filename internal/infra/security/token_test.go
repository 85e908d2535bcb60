package security

import "testing"

func TestGenerateNumericCode(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		code, err := GenerateNumericCode(length)
		if err != nil {
			t.Fatalf("GenerateNumericCode(%d) returned error: %v", length, err)
		}
		if len(code) != length {
			t.Fatalf("GenerateNumericCode(%d) returned %q with length %d", length, code, len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestGenerateNumericCodeRejectsNonPositiveLength(t *testing.T) {
	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := GenerateNumericCode(-3); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestGenerateSecureTokenUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		token, err := GenerateSecureToken(32)
		if err != nil {
			t.Fatalf("GenerateSecureToken returned error: %v", err)
		}
		if token == "" {
			t.Fatal("GenerateSecureToken returned empty string")
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token generated: %q", token)
		}
		seen[token] = struct{}{}
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("refresh-token-value")
	b := HashToken("refresh-token-value")
	if a != b {
		t.Fatal("HashToken must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("HashToken returned %d hex chars, want 64", len(a))
	}
	if HashToken("other-value") == a {
		t.Fatal("distinct inputs must not collide")
	}
}
