package tokenizer

import (
	"strings"
	"testing"

	"crosstalk/internal/domain"
)

func TestCountTokens_WhenEmpty_ShouldReturnZero(t *testing.T) {
	est := NewHeuristicEstimator()
	if got := est.CountTokens(""); got != 0 {
		t.Fatalf("CountTokens(\"\") = %d, want 0", got)
	}
}

func TestCountTokens_WhenHeuristic_ShouldDivideByFour(t *testing.T) {
	est := NewHeuristicEstimator()
	text := strings.Repeat("a", 40)
	if got := est.CountTokens(text); got != 10 {
		t.Fatalf("CountTokens(40 chars) = %d, want 10", got)
	}
}

func TestCountTokens_WhenExactEncoding_ShouldBePositive(t *testing.T) {
	est := NewEstimator(DefaultEncoding)
	if !est.Exact() {
		t.Skip("cl100k_base encoding unavailable")
	}
	if got := est.CountTokens("hello world"); got <= 0 {
		t.Fatalf("CountTokens(\"hello world\") = %d, want > 0", got)
	}
}

func TestMessageCost_WhenImagesAttached_ShouldAddFlatSurcharge(t *testing.T) {
	est := NewHeuristicEstimator()
	msg := domain.Message{
		Role:    domain.RoleUser,
		Content: strings.Repeat("x", 8),
		Images:  []string{"aGk=", "aGk="},
	}
	want := 2 + 2*ImageTokenCost
	if got := est.MessageCost(msg); got != want {
		t.Fatalf("MessageCost = %d, want %d", got, want)
	}
}

func TestNewEstimator_WhenUnknownEncoding_ShouldFallBackToHeuristic(t *testing.T) {
	est := NewEstimator("no-such-encoding")
	if est.Exact() {
		t.Fatal("expected heuristic fallback for unknown encoding")
	}
	if got := est.CountTokens("abcd"); got != 1 {
		t.Fatalf("CountTokens(\"abcd\") = %d, want 1", got)
	}
}
