package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

// ONNXOptions configures the ONNX embedder.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the platform default
	ModelName   string
	OutputName  string
	Dimensions  int
	MaxTokens   int
}

func (o ONNXOptions) withDefaults() ONNXOptions {
	if o.ModelName == "" {
		o.ModelName = "all-MiniLM-L6-v2"
	}
	if o.OutputName == "" {
		o.OutputName = "output"
	}
	if o.Dimensions <= 0 {
		o.Dimensions = 384
	}
	if o.MaxTokens < 2 {
		o.MaxTokens = 256
	}
	return o
}

// Options selects and configures an embedder.
type Options struct {
	Provider  string // "hash" or "onnx"
	ONNX      ONNXOptions
	CacheSize int // 0 disables the cache
}

// NewEmbedder builds the configured embedder, wrapped in a CachedEmbedder when
// CacheSize > 0. When the ONNX embedder cannot start, it logs a warning and
// falls back to the hash embedder of the same width.
func NewEmbedder(opts Options, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	onnx := opts.ONNX.withDefaults()

	var emb Embedder
	switch opts.Provider {
	case ProviderHash, "":
		emb = NewHashEmbedder(onnx.Dimensions)
	case ProviderONNX:
		e, err := NewONNXEmbedder(onnx)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using hash embedder",
				zap.String("model_path", onnx.ModelPath),
				zap.Error(err))
			emb = NewHashEmbedder(onnx.Dimensions)
		} else {
			emb = e
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hash, onnx)", opts.Provider)
	}

	logger.Info("Embedder ready",
		zap.String("model", emb.ModelName()),
		zap.Int("dimensions", emb.Dimensions()))
	if opts.CacheSize > 0 {
		return NewCachedEmbedder(emb, opts.CacheSize), nil
	}
	return emb, nil
}
