package telephony

import (
	"errors"
	"testing"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "already e164",
			input:    "+15551234567",
			expected: "+15551234567",
		},
		{
			name:     "bare nanp number gets country code",
			input:    "5551234567",
			expected: "+15551234567",
		},
		{
			name:     "separators stripped",
			input:    "+1 (555) 123-4567",
			expected: "+15551234567",
		},
		{
			name:     "dots tolerated",
			input:    "555.123.4567",
			expected: "+15551234567",
		},
		{
			name:     "international 00 prefix",
			input:    "0044 20 7946 0958",
			expected: "+442079460958",
		},
		{
			name:     "surrounding whitespace",
			input:    "  +15551234567  ",
			expected: "+15551234567",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "letters rejected",
			input:   "555-CALL-NOW",
			wantErr: true,
		},
		{
			name:    "too short",
			input:   "+1234567",
			wantErr: true,
		},
		{
			name:    "too long",
			input:   "+1234567890123456",
			wantErr: true,
		},
		{
			name:    "leading zero has no country code",
			input:   "+0155512345",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizePhoneNumber(%q) = %q, want error", tt.input, got)
				}
				if !errors.Is(err, ErrInvalidRecipient) {
					t.Errorf("error = %v, want ErrInvalidRecipient", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("NormalizePhoneNumber(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
