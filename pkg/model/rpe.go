package model

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"

	"github.com/gomlx/metl/pkg/encoding"
)

// BuildGraph returns the scores of the encoded sequences, shaped [batchSize, OutputDim].
//
// seqs is either [batchSize, seqLen] integer codes or [batchSize, seqLen, VocabSize] one-hot
// vectors. relPos is the [seqLen, seqLen] matrix of structure relative positions, shared by
// all sequences of the batch.
//
// Dropout is only applied if the context is marked as training for the graph.
func BuildGraph(ctx *context.Context, seqs, relPos *Node) *Node {
	cfg := ConfigFromContext(ctx)
	x := embed(ctx.In("embedding"), seqs, cfg)
	x = dropout(ctx, x, cfg.Dropout)

	// Trailing axis of size 1: indices into the relative embedding tables.
	relPos = InsertAxes(relPos, -1)
	for layer := 0; layer < cfg.NumLayers; layer++ {
		layerCtx := ctx.Inf("layer_%d", layer)

		// Post-norm residual blocks.
		attn := RelativeSelfAttention(layerCtx.In("attention"), x, relPos, cfg)
		x = layers.LayerNormalization(layerCtx.In("norm1"), Add(x, dropout(layerCtx, attn, cfg.Dropout)), -1).Done()

		ff := layers.Dense(layerCtx.In("ff1"), x, true, cfg.FFDim)
		ff = activations.Relu(ff)
		ff = layers.Dense(layerCtx.In("ff2"), ff, true, cfg.EmbedDim)
		x = layers.LayerNormalization(layerCtx.In("norm2"), Add(x, dropout(layerCtx, ff, cfg.Dropout)), -1).Done()
	}

	// Global average pooling over the sequence.
	pooled := ReduceMean(x, 1)
	return predictionHead(ctx.In("head"), pooled, cfg)
}

func embed(ctx *context.Context, seqs *Node, cfg Config) *Node {
	if seqs.DType().IsFloat() {
		// One-hot input.
		return layers.Dense(ctx, ConvertDType(seqs, cfg.DType), false, cfg.EmbedDim)
	}
	return layers.Embedding(ctx, InsertAxes(seqs, -1), cfg.DType, encoding.VocabSize, cfg.EmbedDim)
}

// RelativeSelfAttention is a multi-head self-attention where each query/key pair also attends
// to a learned embedding of their relative position in the structure, both when computing the
// attention logits and when aggregating the values.
//
// x is shaped [batchSize, seqLen, embedDim] and relPos [seqLen, seqLen, 1].
func RelativeSelfAttention(ctx *context.Context, x, relPos *Node, cfg Config) *Node {
	batchSize, seqLen := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	headDim := cfg.EmbedDim / cfg.NumHeads
	numRelative := cfg.MaxRelDist + 1

	query := layers.Dense(ctx.In("query"), x, true, cfg.NumHeads, headDim) // [b, q, h, d]
	key := layers.Dense(ctx.In("key"), x, true, cfg.NumHeads, headDim)     // [b, k, h, d]
	value := layers.Dense(ctx.In("value"), x, true, cfg.NumHeads, headDim) // [b, k, h, d]
	relKey := layers.Embedding(ctx.In("relative_key"), relPos, x.DType(), numRelative, headDim)     // [q, k, d]
	relValue := layers.Embedding(ctx.In("relative_value"), relPos, x.DType(), numRelative, headDim) // [q, k, d]

	logits := Add(
		Einsum("bqhd,bkhd->bhqk", query, key),
		Einsum("bqhd,qkd->bhqk", query, relKey))
	logits = MulScalar(logits, 1.0/math.Sqrt(float64(headDim)))
	weights := Softmax(logits, -1)
	weights = dropout(ctx, weights, cfg.AttentionDropout)

	output := Add(
		Einsum("bhqk,bkhd->bqhd", weights, value),
		Einsum("bhqk,qkd->bqhd", weights, relValue))
	output = Reshape(output, batchSize, seqLen, cfg.NumHeads*headDim)
	return layers.Dense(ctx.In("output"), output, true, cfg.EmbedDim)
}

func predictionHead(ctx *context.Context, x *Node, cfg Config) *Node {
	if cfg.Head == HeadNonLinear {
		x = layers.Dense(ctx.In("hidden"), x, true, cfg.HeadHidden)
		x = activations.Relu(x)
		x = dropout(ctx, x, cfg.Dropout)
	}
	return layers.Dense(ctx.In("output"), x, true, cfg.OutputDim)
}

// dropout zeroes elements of x with probability rate, when training.
func dropout(ctx *context.Context, x *Node, rate float64) *Node {
	g := x.Graph()
	if rate <= 0 || !ctx.IsTraining(g) {
		return x
	}
	keep := ctx.RandomBernoulli(Scalar(g, x.DType(), 1-rate), x.Shape())
	return DivScalar(Mul(x, keep), 1-rate)
}
