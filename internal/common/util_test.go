package common

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
)

// ---------- MakeRandHexString ----------

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	if err != nil {
		t.Fatalf("unexpected error for size=0: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for size=0, got %q", s)
	}
}

// ---------- MakeRandURLString ----------

func TestMakeRandURLString_DecodesToRequestedSize(t *testing.T) {
	s, err := MakeRandURLString(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("not url-safe base64: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(raw))
	}
}

func TestMakeRandURLString_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		s, err := MakeRandURLString(32)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate value %q", s)
		}
		seen[s] = struct{}{}
	}
}

// ---------- WipeByteArray ----------

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}

// ---------- GenerateRandByteArray ----------

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

// ---------- errors ----------

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	if !errors.Is(ErrInvalidToken, ErrorUnauthorized) {
		t.Fatal("ErrInvalidToken must match ErrorUnauthorized")
	}
	if !errors.Is(fmt.Errorf("redeem: %w", ErrInvalidToken), ErrorUnauthorized) {
		t.Fatal("wrapped ErrInvalidToken must match ErrorUnauthorized")
	}
	if !errors.Is(ErrAlreadyExists, ErrorConflict) {
		t.Fatal("ErrAlreadyExists must match ErrorConflict")
	}
}

func TestUpstreamError_MatchesCategoryAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("fetch: %w", &UpstreamError{Provider: "acme", StatusCode: 429, Retryable: true, Err: cause})

	if !errors.Is(err, ErrorUpstream) {
		t.Fatal("expected ErrorUpstream")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !IsRetryable(err) {
		t.Fatal("expected retryable")
	}
	if IsRetryable(cause) {
		t.Fatal("plain error must not be retryable")
	}
	if got := err.Error(); got != "fetch: upstream acme: status 429: boom" {
		t.Fatalf("unexpected message %q", got)
	}
}
