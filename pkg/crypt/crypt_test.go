package crypt

import (
	"strings"
	"testing"
)

func TestAdjustSalt(t *testing.T) {
	tests := []struct {
		name string
		salt string
		want string
	}{
		{
			name: "short salt is padded",
			salt: "abc",
			want: "abc-------------",
		},
		{
			name: "exact salt is unchanged",
			salt: "0123456789abcdef",
			want: "0123456789abcdef",
		},
		{
			name: "long salt is truncated",
			salt: "0123456789abcdef0123",
			want: "0123456789abcdef",
		},
		{
			name: "empty salt is all padding",
			salt: "",
			want: strings.Repeat("-", 16),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdjustSalt(tt.salt)
			if err != nil {
				t.Fatalf("AdjustSalt() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("AdjustSalt() = %q, want %q", got, tt.want)
			}
			if len(got) != SaltLength {
				t.Errorf("AdjustSalt() length = %d, want %d", len(got), SaltLength)
			}
		})
	}
}

func TestAdjustSaltInvalid(t *testing.T) {
	if _, err := AdjustSalt(string([]byte{0xff, 0xfe, 0xfd})); err == nil {
		t.Error("AdjustSalt() accepted invalid text")
	}
}

func TestAdjustPasscode(t *testing.T) {
	tests := []struct {
		name     string
		passcode string
		wantLen  int
	}{
		{"empty pads to 16", "", 16},
		{"short pads to 16", "secret", 16},
		{"exact 16 unchanged", strings.Repeat("a", 16), 16},
		{"between 16 and 24 pads to 24", strings.Repeat("a", 20), 24},
		{"exact 24 unchanged", strings.Repeat("a", 24), 24},
		{"between 24 and 32 pads to 32", strings.Repeat("a", 30), 32},
		{"exact 32 unchanged", strings.Repeat("a", 32), 32},
		{"over 32 truncates to 32", strings.Repeat("a", 50), 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdjustPasscode(tt.passcode)
			if err != nil {
				t.Fatalf("AdjustPasscode() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("AdjustPasscode() length = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c, err := New("roundtrip_salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	passcodes := []string{
		strings.Repeat("p", 16),
		strings.Repeat("p", 24),
		strings.Repeat("p", 32),
		"short",
		"s3cret12345678901",
	}
	plaintexts := []string{
		"",
		"a",
		`{"user":"u","password":"p"}`,
		strings.Repeat("the quick brown fox ", 250),
	}

	for _, passcode := range passcodes {
		for _, plaintext := range plaintexts {
			encrypted, err := c.Encrypt(plaintext, passcode)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			decrypted, err := c.Decrypt(encrypted, passcode)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}

			if decrypted != plaintext {
				t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
			}
		}
	}
}

func TestEncryptDeterministic(t *testing.T) {
	// The IV is process-wide, so identical plaintexts must produce
	// identical ciphertexts
	c, err := New("fixed_salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first, err := c.Encrypt("credential blob", "passcode")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := c.Encrypt("credential blob", "passcode")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if first != second {
		t.Errorf("ciphertexts differ for identical plaintext: %q vs %q", first, second)
	}
}

func TestDecryptMalformed(t *testing.T) {
	c, err := New("salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Decrypt("not base64 !!!", "passcode"); err == nil {
		t.Error("Decrypt() accepted malformed base64")
	}
}
