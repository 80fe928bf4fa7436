// Package report renders the command-line tables: scores, model summaries, hyperparameters and variables.
package report

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

var (
	// TitleStyle is used for the titles printed before each table.
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// Table is a lipgloss table with alternating row styles, where some rows can be highlighted in red.
type Table struct {
	*lgtable.Table
	count int
	reds  map[int]bool
}

// NewTable creates a table whose columns are aligned by alignments: the last alignment
// is used for the remaining columns. The default is left-aligned.
func NewTable(alignments ...lipgloss.Position) *Table {
	t := &Table{reds: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case t.reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

// Row appends a row, highlighted if isRed.
func (t *Table) Row(isRed bool, row ...string) {
	if isRed {
		t.reds[t.count] = true
	}
	t.Table.Row(row...)
	t.count++
}

// Len returns the number of rows added.
func (t *Table) Len() int { return t.count }

// IsAllEqual returns whether all elements of s are equal.
func IsAllEqual[E comparable](s []E) bool {
	for ii := 1; ii < len(s); ii++ {
		if s[ii] != s[0] {
			return false
		}
	}
	return true
}

// FormatScore formats a prediction with 6 significant digits.
func FormatScore(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', 6, 32)
}

// Scores renders one row per variant with its predictions: predictions is flat, with
// outputDim values per variant.
func Scores(variants []string, predictions []float32, outputDim int) *Table {
	t := NewTable(lipgloss.Right, lipgloss.Left, lipgloss.Right)
	headers := []string{"#", "Variant"}
	if outputDim == 1 {
		headers = append(headers, "Score")
	} else {
		for ii := range outputDim {
			headers = append(headers, fmt.Sprintf("Score %d", ii))
		}
	}
	t.Headers(headers...)
	for ii, variant := range variants {
		row := []string{strconv.Itoa(ii), variant}
		for _, v := range predictions[ii*outputDim : (ii+1)*outputDim] {
			row = append(row, FormatScore(v))
		}
		t.Row(false, row...)
	}
	return t
}

// Summary renders the number of variables, parameters and bytes of each model context.
func Summary(names []string, ctxs []*context.Context) *Table {
	t := NewTable(lipgloss.Right, lipgloss.Left)
	t.Row(false, append([]string{"checkpoint"}, names...)...)
	variablesRow := []string{"# variables"}
	parametersRow := []string{"# parameters"}
	memoryRow := []string{"# bytes"}
	for _, ctx := range ctxs {
		var numVars, totalSize int
		var totalMemory uintptr
		for v := range ctx.IterVariables() {
			numVars++
			totalSize += v.Shape().Size()
			totalMemory += v.Shape().Memory()
		}
		variablesRow = append(variablesRow, humanize.Comma(int64(numVars)))
		parametersRow = append(parametersRow, humanize.Comma(int64(totalSize)))
		memoryRow = append(memoryRow, humanize.Bytes(uint64(totalMemory)))
	}
	t.Row(false, variablesRow...)
	t.Row(false, parametersRow...)
	t.Row(false, memoryRow...)
	return t
}

// Params renders the hyperparameters of the model contexts side by side. Rows whose values
// differ across the contexts are highlighted.
func Params(names []string, ctxs []*context.Context) *Table {
	t := NewTable()
	headers := []string{"Scope", "Name", "Type"}
	if len(ctxs) == 1 {
		headers = append(headers, "Value")
	} else {
		headers = append(headers, names...)
	}
	t.Headers(headers...)

	type scopeKey struct{ scope, key string }
	seen := make(map[scopeKey]bool)
	var keys []scopeKey
	for _, ctx := range ctxs {
		ctx.EnumerateParams(func(scope, key string, _ any) {
			sk := scopeKey{scope, key}
			if !seen[sk] {
				seen[sk] = true
				keys = append(keys, sk)
			}
		})
	}
	slices.SortFunc(keys, func(a, b scopeKey) int {
		if c := strings.Compare(a.scope, b.scope); c != 0 {
			return c
		}
		return strings.Compare(a.key, b.key)
	})

	for _, sk := range keys {
		row := make([]string, 3+len(ctxs))
		row[0], row[1] = sk.scope, sk.key
		for ii, ctx := range ctxs {
			if sk.scope != context.RootScope {
				ctx = ctx.InAbsPath(sk.scope)
			}
			value, found := ctx.GetParam(sk.key)
			if !found {
				continue
			}
			if row[2] == "" {
				row[2] = fmt.Sprintf("%T", value)
			}
			row[3+ii] = fmt.Sprintf("%v", value)
		}
		t.Row(!IsAllEqual(row[3:]), row...)
	}
	return t
}

// VariableStats are optional statistics of a variable's values, already formatted.
type VariableStats struct {
	MAV, RMS, MaxAV string
}

// Variables renders the variables of ctx sorted by scope and name. If stats is not nil, it is
// called for each variable to fill the statistics columns.
func Variables(ctx *context.Context, stats func(v *context.Variable) VariableStats) *Table {
	t := NewTable()
	headers := []string{"Scope", "Name", "Shape", "Size", "Bytes"}
	if stats != nil {
		headers = append(headers, "Scalar/MAV", "RMS", "MaxAV")
	}
	t.Headers(headers...)
	var rows [][]string
	for v := range ctx.IterVariables() {
		shape := v.Shape()
		row := []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
		}
		if stats != nil {
			s := stats(v)
			row = append(row, s.MAV, s.RMS, s.MaxAV)
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b []string) int {
		if c := strings.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return strings.Compare(a[1], b[1])
	})
	for _, row := range rows {
		t.Row(false, row...)
	}
	return t
}
