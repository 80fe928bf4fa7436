package encoding

import "github.com/pkg/errors"

// Alphabet is the ordered list of tokens: the integer code of a residue is its index.
// "*" (code 0) is the stop token.
var Alphabet = []byte{
	'*', 'A', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'K',
	'L', 'M', 'N', 'P', 'Q', 'R', 'S', 'T', 'V', 'W', 'Y',
}

// VocabSize is the number of tokens in Alphabet.
var VocabSize = len(Alphabet)

var codes = func() (table [256]int8) {
	for ii := range table {
		table[ii] = -1
	}
	for code, c := range Alphabet {
		table[c] = int8(code)
		if c >= 'A' && c <= 'Z' {
			table[c-'A'+'a'] = int8(code)
		}
	}
	return
}()

// Code returns the integer code of residue c.
func Code(c byte) (int32, error) {
	code := codes[c]
	if code < 0 {
		return 0, errors.Wrapf(ErrUnknownResidue, "%q", c)
	}
	return int32(code), nil
}

// Residue returns the residue letter for the integer code.
func Residue(code int32) (byte, error) {
	if code < 0 || int(code) >= len(Alphabet) {
		return 0, errors.Wrapf(ErrUnknownResidue, "code %d", code)
	}
	return Alphabet[code], nil
}

// EncodeSequence maps a full amino-acid sequence to integer codes.
func EncodeSequence(seq string) ([]int32, error) {
	out := make([]int32, len(seq))
	for ii := 0; ii < len(seq); ii++ {
		code, err := Code(seq[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "position %d of sequence", ii)
		}
		out[ii] = code
	}
	return out, nil
}
