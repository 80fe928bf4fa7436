package model

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/metl/pkg/encoding"
	"github.com/gomlx/metl/pkg/structure"
)

// Hyperparameters of the model, stored as context parameters (and therefore saved
// along with checkpoints). The same names are used as JSON keys in safetensors metadata.
const (
	ParamEmbedDim         = "metl_embed_dim"
	ParamNumLayers        = "metl_num_layers"
	ParamNumHeads         = "metl_num_heads"
	ParamFFDim            = "metl_ff_dim"
	ParamDropout          = "metl_dropout"
	ParamAttentionDropout = "metl_attention_dropout"
	ParamMaxRelDist       = "metl_max_rel_dist"
	ParamContactThreshold = "metl_contact_threshold"
	ParamHead             = "metl_head"
	ParamHeadHidden       = "metl_head_hidden"
	ParamOutputDim        = "metl_output_dim"
	ParamInputEncoding    = "metl_input_encoding"
)

// Prediction head types.
const (
	HeadLinear    = "linear"
	HeadNonLinear = "nonlinear"
)

// Config of the structure-relative transformer.
type Config struct {
	DType dtypes.DType `json:"-"`

	EmbedDim         int     `json:"metl_embed_dim"`
	NumLayers        int     `json:"metl_num_layers"`
	NumHeads         int     `json:"metl_num_heads"`
	FFDim            int     `json:"metl_ff_dim"`
	Dropout          float64 `json:"metl_dropout"`
	AttentionDropout float64 `json:"metl_attention_dropout"`

	// MaxRelDist is the clipping distance of the structure relative positions: there are
	// MaxRelDist+1 learned relative embeddings per layer.
	MaxRelDist       int     `json:"metl_max_rel_dist"`
	ContactThreshold float64 `json:"metl_contact_threshold"`

	Head       string `json:"metl_head"`
	HeadHidden int    `json:"metl_head_hidden"`
	OutputDim  int    `json:"metl_output_dim"`

	// InputEncoding the model was trained with: encoding.IntSeqs or encoding.OneHot.
	InputEncoding encoding.Kind `json:"metl_input_encoding"`
}

// DefaultConfig returns the hyperparameters used when none are set in the context.
func DefaultConfig() Config {
	return Config{
		DType:            dtypes.Float32,
		EmbedDim:         256,
		NumLayers:        3,
		NumHeads:         4,
		FFDim:            512,
		Dropout:          0.1,
		AttentionDropout: 0.1,
		MaxRelDist:       structure.DefaultMaxDistance,
		ContactThreshold: structure.DefaultContactThreshold,
		Head:             HeadLinear,
		HeadHidden:       128,
		OutputDim:        1,
		InputEncoding:    encoding.IntSeqs,
	}
}

// ConfigFromContext reads the hyperparameters from ctx, using DefaultConfig for the missing ones.
func ConfigFromContext(ctx *context.Context) Config {
	c := DefaultConfig()
	c.EmbedDim = context.GetParamOr(ctx, ParamEmbedDim, c.EmbedDim)
	c.NumLayers = context.GetParamOr(ctx, ParamNumLayers, c.NumLayers)
	c.NumHeads = context.GetParamOr(ctx, ParamNumHeads, c.NumHeads)
	c.FFDim = context.GetParamOr(ctx, ParamFFDim, c.FFDim)
	c.Dropout = context.GetParamOr(ctx, ParamDropout, c.Dropout)
	c.AttentionDropout = context.GetParamOr(ctx, ParamAttentionDropout, c.AttentionDropout)
	c.MaxRelDist = context.GetParamOr(ctx, ParamMaxRelDist, c.MaxRelDist)
	c.ContactThreshold = context.GetParamOr(ctx, ParamContactThreshold, c.ContactThreshold)
	c.Head = context.GetParamOr(ctx, ParamHead, c.Head)
	c.HeadHidden = context.GetParamOr(ctx, ParamHeadHidden, c.HeadHidden)
	c.OutputDim = context.GetParamOr(ctx, ParamOutputDim, c.OutputDim)
	c.InputEncoding = encoding.Kind(context.GetParamOr(ctx, ParamInputEncoding, string(c.InputEncoding)))
	return c
}

// SetParams writes the hyperparameters into ctx.
func (c Config) SetParams(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamEmbedDim:         c.EmbedDim,
		ParamNumLayers:        c.NumLayers,
		ParamNumHeads:         c.NumHeads,
		ParamFFDim:            c.FFDim,
		ParamDropout:          c.Dropout,
		ParamAttentionDropout: c.AttentionDropout,
		ParamMaxRelDist:       c.MaxRelDist,
		ParamContactThreshold: c.ContactThreshold,
		ParamHead:             c.Head,
		ParamHeadHidden:       c.HeadHidden,
		ParamOutputDim:        c.OutputDim,
		ParamInputEncoding:    string(c.InputEncoding),
	})
}

// Validate the hyperparameters.
func (c Config) Validate() error {
	switch {
	case c.EmbedDim <= 0 || c.NumHeads <= 0 || c.FFDim <= 0 || c.OutputDim <= 0:
		return errors.Errorf("model dimensions must be positive: embed=%d heads=%d ff=%d output=%d",
			c.EmbedDim, c.NumHeads, c.FFDim, c.OutputDim)
	case c.EmbedDim%c.NumHeads != 0:
		return errors.Errorf("%s=%d must be divisible by %s=%d", ParamEmbedDim, c.EmbedDim, ParamNumHeads, c.NumHeads)
	case c.NumLayers < 0:
		return errors.Errorf("%s=%d must be >= 0", ParamNumLayers, c.NumLayers)
	case c.MaxRelDist <= 0:
		return errors.Errorf("%s=%d must be > 0", ParamMaxRelDist, c.MaxRelDist)
	case c.Head != HeadLinear && c.Head != HeadNonLinear:
		return errors.Errorf("%s=%q must be %q or %q", ParamHead, c.Head, HeadLinear, HeadNonLinear)
	case c.InputEncoding != encoding.IntSeqs && c.InputEncoding != encoding.OneHot:
		return errors.Errorf("%s=%q is not a valid encoding", ParamInputEncoding, c.InputEncoding)
	}
	return nil
}

// StructureOptions returns the options to build the structure relative positions the model expects.
func (c Config) StructureOptions() structure.Options {
	return structure.Options{ContactThreshold: c.ContactThreshold, MaxDistance: c.MaxRelDist}
}
