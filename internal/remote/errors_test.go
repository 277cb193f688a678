package remote

import (
	"errors"
	"fmt"
	"testing"
)

// TestAuthenticationError_Error verifies error message formatting
func TestAuthenticationError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *AuthenticationError
		wantFormat string
	}{
		{
			name:       "without reason",
			err:        &AuthenticationError{Operation: "login"},
			wantFormat: "authentication failed during login",
		},
		{
			name:       "with reason",
			err:        &AuthenticationError{Operation: "authenticate", Reason: "a session is already active"},
			wantFormat: "authentication failed during authenticate: a session is already active",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestCatalogError_Error verifies error message formatting
func TestCatalogError_Error(t *testing.T) {
	err := &CatalogError{Link: "https://mega.nz/folder/abc", Reason: "link expired"}

	expected := "catalog error for 'https://mega.nz/folder/abc': link expired"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestTransferError_Unwrap verifies error chain traversal
func TestTransferError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransferError{Path: "a/b.mkv", Kind: KindTransport, Err: cause}

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, KindNone},
		{"transfer error", fmt.Errorf("wrap: %w", &TransferError{Kind: KindStall}), KindStall},
		{"authentication error", &AuthenticationError{Operation: "fetch"}, KindUnauthorized},
		{"unknown error", errors.New("boom"), KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFailureKind_Classification(t *testing.T) {
	fatal := []FailureKind{KindSessionLost, KindUnauthorized, KindFilesystem}
	for _, k := range fatal {
		if !k.Fatal() {
			t.Errorf("%s should be fatal", k)
		}

		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}

	retryable := []FailureKind{KindTimeout, KindStall, KindTransport, KindSizeMismatch}
	for _, k := range retryable {
		if k.Fatal() {
			t.Errorf("%s should not be fatal", k)
		}

		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}

	if KindQuotaExceeded.Retryable() || KindQuotaExceeded.Fatal() {
		t.Error("quota_exceeded is neither retryable nor fatal")
	}
}

func TestByteRange(t *testing.T) {
	r := ByteRange{Offset: 100, Length: 50}
	if r.End() != 150 {
		t.Errorf("End() = %d, want 150", r.End())
	}

	if r.String() != "bytes=100-149" {
		t.Errorf("String() = %q", r.String())
	}

	if !Whole(10).IsWhole(10) {
		t.Error("Whole(10) should cover a 10 byte file")
	}

	if r.IsWhole(150) {
		t.Error("offset range should not be whole")
	}

	if (ByteRange{Offset: 5}).String() != "bytes=5-" {
		t.Error("open ended range formatting")
	}
}
