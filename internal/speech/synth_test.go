package speech

import (
	"strings"
	"testing"
)

func TestCacheKey(t *testing.T) {
	a := CacheKey("Welcome to Velora Motors", "nova")
	if a != CacheKey("Welcome to Velora Motors", "nova") {
		t.Error("cache key must be deterministic")
	}
	if !strings.HasPrefix(a, "prompts/") || !strings.HasSuffix(a, ".mp3") {
		t.Errorf("unexpected key shape: %s", a)
	}

	if a == CacheKey("Welcome to Velora Motors", "echo") {
		t.Error("different voices must key differently")
	}
	if a == CacheKey("welcome to velora motors", "nova") {
		t.Error("different text must key differently")
	}

	// The separator keeps (voice, text) pairs from colliding when the
	// voice is a prefix of another
	if CacheKey("bc", "a") == CacheKey("c", "ab") {
		t.Error("voice/text boundary must be unambiguous")
	}
}
