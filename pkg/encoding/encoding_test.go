package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlphabet(t *testing.T) {
	require.Equal(t, 21, VocabSize)
	code, err := Code('A')
	require.NoError(t, err)
	require.Equal(t, int32(1), code)
	code, err = Code('y')
	require.NoError(t, err)
	require.Equal(t, int32(20), code)
	code, err = Code('*')
	require.NoError(t, err)
	require.Equal(t, int32(0), code)
	_, err = Code('B')
	require.ErrorIs(t, err, ErrUnknownResidue)

	r, err := Residue(4)
	require.NoError(t, err)
	require.Equal(t, byte('E'), r)
	_, err = Residue(21)
	require.ErrorIs(t, err, ErrUnknownResidue)

	seq, err := EncodeSequence("ACDY")
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3, 20}, seq)
}

func TestIntSeqs(t *testing.T) {
	enc := New(DefaultConfig())
	batch, err := enc.Encode([]string{"A0C", "_wt", "C1D,A0Y"}, "AC", 0)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len())
	require.Equal(t, 2, batch.SeqLen())
	require.Equal(t, [][]int32{{2, 2}, {1, 2}, {20, 3}}, batch.Sequences)

	tensor := batch.Tensor()
	require.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)
	require.Equal(t, [][]int32{{2, 2}, {1, 2}, {20, 3}}, tensor.Value())

	sub := batch.Slice(1, 3)
	require.Equal(t, []string{"_wt", "C1D,A0Y"}, sub.Variants)
	require.Equal(t, 2, sub.Len())
}

func TestOffsetAndIndexing(t *testing.T) {
	// Numbering starts at 10, 1-indexed: position 11 is the first residue.
	enc := New(Config{Kind: IntSeqs, Indexing: OneIndexed})
	batch, err := enc.Encode([]string{"M11A", "K13E"}, "MQK", 10)
	require.NoError(t, err)
	require.Equal(t, [][]int32{{1, 14, 9}, {11, 14, 4}}, batch.Sequences)

	_, err = enc.Encode([]string{"M10A"}, "MQK", 10)
	require.ErrorIs(t, err, ErrInvalidVariant)
	_, err = enc.Encode([]string{"K14E"}, "MQK", 10)
	require.ErrorIs(t, err, ErrInvalidVariant)
}

func TestStrict(t *testing.T) {
	lenient := New(DefaultConfig())
	_, err := lenient.Encode([]string{"A1C"}, "AC", 0)
	require.NoError(t, err)

	strict := New(Config{Strict: true})
	_, err = strict.Encode([]string{"A1C"}, "AC", 0)
	require.ErrorIs(t, err, ErrInvalidVariant)
	_, err = strict.Encode([]string{"C1A"}, "AC", 0)
	require.NoError(t, err)
}

func TestOneHot(t *testing.T) {
	enc := New(Config{Kind: OneHot})
	batch, err := enc.Encode([]string{"A0C"}, "AC", 0)
	require.NoError(t, err)
	tensor := batch.Tensor()
	require.Equal(t, []int{1, 2, VocabSize}, tensor.Shape().Dimensions)
	got := tensor.Value().([][][]float32)
	for pos, wantCode := range []int{2, 2} {
		for code := 0; code < VocabSize; code++ {
			want := float32(0)
			if code == wantCode {
				want = 1
			}
			require.Equalf(t, want, got[0][pos][code], "position %d, code %d", pos, code)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	enc := New(DefaultConfig())
	_, err := enc.Encode([]string{"A0B"}, "AC", 0)
	require.ErrorIs(t, err, ErrUnknownResidue)
	_, err = enc.Encode([]string{"A0C"}, "AXC", 0)
	require.ErrorIs(t, err, ErrUnknownResidue)
	_, err = enc.Encode([]string{"A0C"}, "", 0)
	require.Error(t, err)

	_, err = ParseKind("bogus")
	require.Error(t, err)
	kind, err := ParseKind("ONE_HOT")
	require.NoError(t, err)
	require.Equal(t, OneHot, kind)
	idx, err := ParseIndexing("1_indexed")
	require.NoError(t, err)
	require.Equal(t, OneIndexed, idx)
}
