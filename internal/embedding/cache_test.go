package embedding

import (
	"context"
	"errors"
	"testing"
)

type countingEmbedder struct {
	*HashEmbedder
	calls int
	texts int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	c.texts++
	if c.err != nil {
		return nil, c.err
	}
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	if c.err != nil {
		return nil, c.err
	}
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_Embed(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8)}
	c := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	a1, err := c.Embed(ctx, "reset password")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := c.Embed(ctx, "reset password")
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("cached embedding differs")
		}
	}

	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "c") // evicts "reset password"
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
	_, _ = c.Embed(ctx, "reset password")
	if inner.calls != 4 {
		t.Errorf("expected eviction to force recompute, calls=%d", inner.calls)
	}
}

func TestCachedEmbedder_EmbedBatchOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "x")
	out, err := c.EmbedBatch(ctx, []string{"x", "y", "z"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d embeddings", len(out))
	}
	if inner.texts != 3 {
		t.Errorf("expected 1 + 2 embedded texts, got %d", inner.texts)
	}

	inner.calls = 0
	if _, err := c.EmbedBatch(ctx, []string{"x", "y", "z"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 0 {
		t.Errorf("fully cached batch should not call inner, calls=%d", inner.calls)
	}
}

func TestCachedEmbedder_ErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8), err: boom}
	c := NewCachedEmbedder(inner, 10)

	if _, err := c.Embed(context.Background(), "q"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("error result must not be cached")
	}
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	c := NewCachedEmbedder(NewHashEmbedder(16), 0)
	if c.Dimensions() != 16 {
		t.Errorf("Dimensions=%d", c.Dimensions())
	}
	if c.ModelName() != "hash-16" {
		t.Errorf("ModelName=%q", c.ModelName())
	}
}
