package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
)

// failingEmbedder fails every batch.
type failingEmbedder struct {
	*embedding.MockEmbedder
}

func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection reset by peer")
}

// shortEmbedder drops the last vector of every batch.
type shortEmbedder struct {
	*embedding.MockEmbedder
}

func (s shortEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.MockEmbedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vecs[:len(vecs)-1], nil
}

func testChunks() []models.Chunk {
	return []models.Chunk{
		{Position: 0, Content: "Enrollment opens on May 1."},
		{Position: 1, Content: "Tuition is due by August 15."},
		{Position: 2, Content: "The library closes at 10pm."},
	}
}

func TestBuilder_Build(t *testing.T) {
	for _, typ := range []string{"memory", "chromem"} {
		t.Run(typ, func(t *testing.T) {
			emb := embedding.NewMockEmbedder(16)
			b := NewBuilder(emb, WithIndexType(typ))
			if b.IndexType() != typ {
				t.Errorf("IndexType = %s", b.IndexType())
			}
			idx, err := b.Build(context.Background(), testChunks())
			if err != nil {
				t.Fatal(err)
			}
			defer idx.Close()
			if idx.Size() != 3 {
				t.Errorf("Size = %d, want 3", idx.Size())
			}
			if idx.Dimensions() != 16 {
				t.Errorf("Dimensions = %d", idx.Dimensions())
			}

			q, _ := emb.EmbedBatch(context.Background(), []string{"Tuition is due by August 15."})
			results, err := idx.Search(context.Background(), q[0], 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 1 || results[0].Position != 1 {
				t.Errorf("exact chunk text should be top-1, got %+v", results)
			}
		})
	}
}

func TestBuilder_Build_embeddingFailure(t *testing.T) {
	tests := []struct {
		name string
		emb  embedding.Embedder
	}{
		{"provider error", failingEmbedder{embedding.NewMockEmbedder(8)}},
		{"missing vectors", shortEmbedder{embedding.NewMockEmbedder(8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewBuilder(tt.emb).Build(context.Background(), testChunks())
			if !errors.Is(err, models.ErrEmbeddingProvider) {
				t.Errorf("err = %v, want ErrEmbeddingProvider", err)
			}
			if idx != nil {
				t.Error("failed build must not return an index")
			}
		})
	}
}

func TestBuilder_Build_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(embedding.NewMockEmbedder(8)).Build(ctx, testChunks())
	if !errors.Is(err, models.ErrEmbeddingProvider) {
		t.Errorf("err = %v, want ErrEmbeddingProvider", err)
	}
}

func TestBuilder_Build_noChunks(t *testing.T) {
	_, err := NewBuilder(embedding.NewMockEmbedder(8)).Build(context.Background(), nil)
	if !errors.Is(err, models.ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}

func TestBuilder_unknownIndexType(t *testing.T) {
	_, err := NewBuilder(embedding.NewMockEmbedder(8), WithIndexType("faiss")).Build(context.Background(), testChunks())
	if err == nil {
		t.Error("expected error for unknown index type")
	}
}
