package variants

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseMutation(t *testing.T) {
	m, err := ParseMutation("A123V")
	require.NoError(t, err)
	require.Equal(t, Mutation{From: 'A', Position: 123, To: 'V'}, m)
	require.Equal(t, "A123V", m.String())

	m, err = ParseMutation("g0s")
	require.NoError(t, err)
	require.Equal(t, Mutation{From: 'G', Position: 0, To: 'S'}, m)

	m, err = ParseMutation("Q7*")
	require.NoError(t, err)
	require.Equal(t, byte('*'), m.To)

	for _, bad := range []string{"", "A1", "1A2", "AxV", "A12"} {
		_, err := ParseMutation(bad)
		require.Errorf(t, err, "mutation %q should fail", bad)
		require.Truef(t, errors.Is(err, ErrInvalid), "mutation %q: got %v", bad, err)
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("E3K,G102S")
	require.NoError(t, err)
	require.Len(t, v.Mutations, 2)
	require.Equal(t, "E3K,G102S", v.String())

	for _, wt := range []string{"wt", "WT", "_wt"} {
		v, err = Parse(wt)
		require.NoError(t, err)
		require.True(t, v.IsWildType())
		require.Equal(t, WildType, v.String())
	}

	_, err = Parse("E3K,,G102S")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestSplitList(t *testing.T) {
	parts, err := SplitList("A1C_A1C")
	require.NoError(t, err)
	require.Equal(t, []string{"A1C", "A1C"}, parts)

	parts, err = SplitList("E3K,G102S_wt_A10V")
	require.NoError(t, err)
	require.Equal(t, []string{"E3K,G102S", "wt", "A10V"}, parts)

	parts, err = SplitList("_wt")
	require.NoError(t, err)
	require.Equal(t, []string{WildType}, parts)

	_, err = SplitList("")
	require.ErrorIs(t, err, ErrInvalid)
	_, err = SplitList("A1C__A2C")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseList(t *testing.T) {
	vs, err := ParseList("E3K_G102S,A10V")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	require.Equal(t, "E3K", vs[0].String())
	require.Equal(t, "G102S,A10V", vs[1].String())

	_, err = ParseList("E3K_bogus")
	require.ErrorIs(t, err, ErrInvalid)
}
