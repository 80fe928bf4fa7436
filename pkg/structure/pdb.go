// Package structure reads protein structures and derives the 3D relative positions used
// by the structure-aware attention of the model.
//
// Residues are connected in a contact graph when their representative atoms (CB, or CA
// for glycine and residues without CB) are within a distance threshold. The relative
// position of two residues is the number of hops between them in that graph, clipped
// to a maximum distance.
package structure

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidPDB is returned (wrapped) for malformed PDB contents.
var ErrInvalidPDB = errors.New("invalid PDB")

// Vec3 is a point in space, in Ångströms.
type Vec3 [3]float64

// Residue of a structure, with the coordinates of the atoms used to build the contact graph.
type Residue struct {
	Chain  byte
	SeqNum int
	ICode  byte
	Name   string

	CA, CB       Vec3
	HasCA, HasCB bool
}

// Representative returns the atom position used for contacts: CB if present, CA otherwise.
func (r *Residue) Representative() (Vec3, bool) {
	if r.HasCB {
		return r.CB, true
	}
	return r.CA, r.HasCA
}

// Structure is the ordered list of residues of the first model of a PDB file.
type Structure struct {
	Residues []*Residue
}

// Len returns the number of residues.
func (s *Structure) Len() int { return len(s.Residues) }

// Sequence returns the one-letter amino-acid sequence, with 'X' for unknown residues.
func (s *Structure) Sequence() string {
	var sb strings.Builder
	for _, r := range s.Residues {
		sb.WriteByte(oneLetter(r.Name))
	}
	return sb.String()
}

// ParsePDB parses the ATOM records of the first model in a PDB file, plus the HETATM records
// of modified amino acids such as selenomethionine (MSE).
// Alternate locations other than the first one are ignored.
func ParsePDB(data []byte) (*Structure, error) {
	s := &Structure{}
	type residueKey struct {
		chain  byte
		seqNum int
		iCode  byte
	}
	var current *Residue
	var currentKey residueKey
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break
		}
		if !strings.HasPrefix(line, "ATOM  ") && !isModifiedResidue(line) {
			continue
		}
		if len(line) < 54 {
			return nil, errors.Wrapf(ErrInvalidPDB, "line %d: ATOM record too short", lineNum)
		}
		altLoc := line[16]
		if altLoc != ' ' && altLoc != 'A' && altLoc != '1' {
			continue
		}
		seqNum, err := strconv.Atoi(strings.TrimSpace(line[22:26]))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidPDB, "line %d: invalid residue number %q", lineNum, line[22:26])
		}
		key := residueKey{chain: line[21], seqNum: seqNum, iCode: line[26]}
		if current == nil || key != currentKey {
			current = &Residue{
				Chain:  key.chain,
				SeqNum: key.seqNum,
				ICode:  key.iCode,
				Name:   strings.TrimSpace(line[17:20]),
			}
			currentKey = key
			s.Residues = append(s.Residues, current)
		}
		var pos Vec3
		for axis := 0; axis < 3; axis++ {
			field := strings.TrimSpace(line[30+8*axis : 38+8*axis])
			pos[axis], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidPDB, "line %d: invalid coordinate %q", lineNum, field)
			}
		}
		switch strings.TrimSpace(line[12:16]) {
		case "CA":
			current.CA, current.HasCA = pos, true
		case "CB":
			current.CB, current.HasCB = pos, true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading PDB")
	}
	if len(s.Residues) == 0 {
		return nil, errors.Wrap(ErrInvalidPDB, "no ATOM records")
	}
	return s, nil
}

var threeToOne = map[string]byte{
	"ALA": 'A', "CYS": 'C', "ASP": 'D', "GLU": 'E', "PHE": 'F',
	"GLY": 'G', "HIS": 'H', "ILE": 'I', "LYS": 'K', "LEU": 'L',
	"MET": 'M', "ASN": 'N', "PRO": 'P', "GLN": 'Q', "ARG": 'R',
	"SER": 'S', "THR": 'T', "VAL": 'V', "TRP": 'W', "TYR": 'Y',
	"MSE": 'M',
}

// modifiedResidues are amino acids recorded as HETATM.
var modifiedResidues = map[string]bool{"MSE": true}

func isModifiedResidue(line string) bool {
	return strings.HasPrefix(line, "HETATM") && len(line) >= 20 && modifiedResidues[strings.TrimSpace(line[17:20])]
}

func oneLetter(name string) byte {
	if c, found := threeToOne[name]; found {
		return c
	}
	return 'X'
}
