package ocr

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/zupu/alignworker/internal/align"
)

type fakeSource struct {
	candidates []align.Candidate
	err        error
	calls      int
}

func (f *fakeSource) Candidates(context.Context, *image.Gray, align.QueryHint) ([]align.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

func TestChainFirstNonEmptyWins(t *testing.T) {
	first := &fakeSource{candidates: []align.Candidate{{Glyphs: []rune("壙"), Confidence: 0.9}}}
	second := &fakeSource{candidates: []align.Candidate{{Glyphs: []rune("志"), Confidence: 0.5}}}

	chain := NewChain(first, second)
	got, err := chain.Candidates(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)), align.QueryHint{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || string(got[0].Glyphs) != "壙" {
		t.Errorf("expected first source's candidate, got %+v", got)
	}
	if second.calls != 0 {
		t.Errorf("second source queried despite first succeeding")
	}
}

func TestChainFallsThroughFailures(t *testing.T) {
	first := &fakeSource{err: errors.New("service down")}
	second := &fakeSource{}
	third := &fakeSource{candidates: []align.Candidate{{Glyphs: []rune("志"), Confidence: 0.6}}}

	chain := NewChain(first, nil, second, third)
	got, err := chain.Candidates(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)), align.QueryHint{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || string(got[0].Glyphs) != "志" {
		t.Errorf("expected third source's candidate, got %+v", got)
	}
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain(&fakeSource{err: errors.New("down")}, &fakeSource{err: errors.New("also down")})
	if _, err := chain.Candidates(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)), align.QueryHint{}); err == nil {
		t.Fatalf("expected error when every source fails")
	}
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain()
	if _, err := chain.Candidates(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)), align.QueryHint{}); err == nil {
		t.Fatalf("expected error for empty chain")
	}
}
