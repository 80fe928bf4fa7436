// Package encoding converts protein variants into model inputs.
//
// Each variant is applied to the wild-type sequence and the resulting sequence is
// mapped to integer codes (see Alphabet). Two encodings are supported:
//
//   - IntSeqs: a [numVariants, seqLen] int32 tensor of residue codes.
//   - OneHot: a [numVariants, seqLen, VocabSize] float32 tensor.
//
// Positions in the variant notation are translated to sequence indices by the
// Indexing convention and the dataset's wild-type offset:
//
//	index = position (-1 if Indexing is OneIndexed) - wtOffset
package encoding

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/gomlx/metl/pkg/variants"
)

var (
	// ErrUnknownResidue is returned for residues outside of Alphabet.
	ErrUnknownResidue = errors.New("unknown residue")

	// ErrInvalidVariant is returned for variants that can't be applied to the wild-type.
	ErrInvalidVariant = errors.New("invalid variant for wild-type")
)

// Kind of encoding.
type Kind string

const (
	IntSeqs Kind = "int_seqs"
	OneHot  Kind = "one_hot"
)

// ParseKind parses the name of an encoding.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case IntSeqs:
		return IntSeqs, nil
	case OneHot:
		return OneHot, nil
	}
	return "", errors.Errorf("unknown encoding %q, valid values are %q and %q", s, IntSeqs, OneHot)
}

// Indexing convention of the variant positions.
type Indexing string

const (
	ZeroIndexed Indexing = "0_indexed"
	OneIndexed  Indexing = "1_indexed"
)

// ParseIndexing parses an indexing convention name.
func ParseIndexing(s string) (Indexing, error) {
	switch Indexing(strings.ToLower(s)) {
	case ZeroIndexed:
		return ZeroIndexed, nil
	case OneIndexed:
		return OneIndexed, nil
	}
	return "", errors.Errorf("unknown indexing %q, valid values are %q and %q", s, ZeroIndexed, OneIndexed)
}

// Encoder converts variant strings into a Batch, relative to the wild-type sequence wtAA
// and the numbering offset wtOffset.
type Encoder interface {
	Encode(variantStrs []string, wtAA string, wtOffset int) (*Batch, error)
}

// Batch of encoded variants, in the same order they were given.
type Batch struct {
	Kind     Kind
	Variants []string

	// Sequences holds the integer codes of each mutated sequence, all of the same length.
	Sequences [][]int32
}

// Len returns the number of variants in the batch.
func (b *Batch) Len() int { return len(b.Sequences) }

// SeqLen returns the length of the encoded sequences.
func (b *Batch) SeqLen() int {
	if len(b.Sequences) == 0 {
		return 0
	}
	return len(b.Sequences[0])
}

// Slice returns the sub-batch [start, end).
func (b *Batch) Slice(start, end int) *Batch {
	return &Batch{
		Kind:      b.Kind,
		Variants:  b.Variants[start:end],
		Sequences: b.Sequences[start:end],
	}
}

// Tensor materializes the batch according to its Kind:
// [numVariants, seqLen] int32 for IntSeqs, or [numVariants, seqLen, VocabSize] float32 for OneHot.
func (b *Batch) Tensor() *tensors.Tensor {
	numVariants, seqLen := b.Len(), b.SeqLen()
	if b.Kind == OneHot {
		flat := make([]float32, numVariants*seqLen*VocabSize)
		for ii, seq := range b.Sequences {
			for jj, code := range seq {
				flat[(ii*seqLen+jj)*VocabSize+int(code)] = 1
			}
		}
		return tensors.FromFlatDataAndDimensions(flat, numVariants, seqLen, VocabSize)
	}
	flat := make([]int32, 0, numVariants*seqLen)
	for _, seq := range b.Sequences {
		flat = append(flat, seq...)
	}
	return tensors.FromFlatDataAndDimensions(flat, numVariants, seqLen)
}

// Config of the default variant Encoder.
type Config struct {
	Kind     Kind
	Indexing Indexing

	// Strict verifies that the "from" residue of each mutation matches the wild-type.
	Strict bool
}

// DefaultConfig encodes integer sequences with 0-indexed positions.
func DefaultConfig() Config {
	return Config{Kind: IntSeqs, Indexing: ZeroIndexed}
}

// New returns the default Encoder for the given configuration.
func New(config Config) Encoder {
	if config.Kind == "" {
		config.Kind = IntSeqs
	}
	if config.Indexing == "" {
		config.Indexing = ZeroIndexed
	}
	return &variantEncoder{config: config}
}

type variantEncoder struct {
	config Config
}

// Encode implements Encoder.
func (e *variantEncoder) Encode(variantStrs []string, wtAA string, wtOffset int) (*Batch, error) {
	if wtAA == "" {
		return nil, errors.New("empty wild-type sequence")
	}
	wtCodes, err := EncodeSequence(wtAA)
	if err != nil {
		return nil, errors.WithMessage(err, "wild-type")
	}
	batch := &Batch{
		Kind:      e.config.Kind,
		Variants:  variantStrs,
		Sequences: make([][]int32, len(variantStrs)),
	}
	for ii, s := range variantStrs {
		v, err := variants.Parse(s)
		if err != nil {
			return nil, err
		}
		seq := make([]int32, len(wtCodes))
		copy(seq, wtCodes)
		if err = e.apply(seq, wtAA, wtOffset, v); err != nil {
			return nil, errors.WithMessagef(err, "variant #%d %q", ii, s)
		}
		batch.Sequences[ii] = seq
	}
	return batch, nil
}

func (e *variantEncoder) apply(seq []int32, wtAA string, wtOffset int, v variants.Variant) error {
	for _, m := range v.Mutations {
		idx := m.Position
		if e.config.Indexing == OneIndexed {
			idx--
		}
		idx -= wtOffset
		if idx < 0 || idx >= len(seq) {
			return errors.Wrapf(ErrInvalidVariant, "mutation %s maps to index %d, outside of wild-type of length %d",
				m, idx, len(seq))
		}
		if e.config.Strict && upper(wtAA[idx]) != m.From {
			return errors.Wrapf(ErrInvalidVariant, "mutation %s: wild-type has %q at index %d",
				m, wtAA[idx], idx)
		}
		code, err := Code(m.To)
		if err != nil {
			return errors.WithMessagef(err, "mutation %s", m)
		}
		seq[idx] = code
	}
	return nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
