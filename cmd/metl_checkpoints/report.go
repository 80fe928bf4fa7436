package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	gomlxctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/metl/internal/report"
	"github.com/gomlx/metl/pkg/model"
)

// Report prints the tables selected by the flags for the given checkpoints.
func Report(ctx context.Context, paths []string) error {
	ctxs := make([]*gomlxctx.Context, len(paths))
	for ii, path := range paths {
		var err error
		ctxs[ii], err = model.LoadContext(ctx, path)
		if err != nil {
			return err
		}
	}
	names := shortNames(paths)

	if *flagSummary {
		fmt.Println(report.TitleStyle.Render("Summary"))
		fmt.Println(report.Summary(names, ctxs).Render())
	}
	if *flagParams {
		fmt.Println(report.TitleStyle.Render("Hyperparameters"))
		fmt.Println(report.Params(names, ctxs).Render())
	}
	if *flagVars {
		var stats func(v *gomlxctx.Variable) report.VariableStats
		if *flagStats {
			stats = newStatsFn()
		}
		for ii, gctx := range ctxs {
			fmt.Println(report.TitleStyle.Render(fmt.Sprintf("Variables of %s", names[ii])))
			fmt.Println(report.Variables(gctx, stats).Render())
		}
	}
	return nil
}

// newStatsFn returns a function that computes the mean absolute value, root-mean-square and
// max absolute value of float variables, or the value itself for scalars.
func newStatsFn() func(v *gomlxctx.Variable) report.VariableStats {
	statsExec := MustNewExec(backends.MustNew(), func(x *Node) (mav, rms, maxAV *Node) {
		x = ConvertDType(x, dtypes.Float64)
		mav = ReduceAllMean(Abs(x))
		rms = Sqrt(ReduceAllMean(Square(x)))
		maxAV = ReduceAllMax(Abs(x))
		return
	}).SetMaxCache(-1)
	return func(v *gomlxctx.Variable) (s report.VariableStats) {
		shape := v.Shape()
		value := v.Value()
		switch {
		case shape.Size() == 1:
			s.MAV = fmt.Sprintf("%8v", value.Value())
		case shape.DType.IsFloat():
			results := statsExec.MustExec(value)
			s.MAV = fmt.Sprintf("%.3g", results[0].Value().(float64))
			s.RMS = fmt.Sprintf("%.3g", results[1].Value().(float64))
			s.MaxAV = fmt.Sprintf("%.3g", results[2].Value().(float64))
		}
		return
	}
}

// shortNames returns the shortest distinct suffixes of the paths, to use as column titles.
func shortNames(paths []string) []string {
	names := make([]string, len(paths))
	parts := make([][]string, len(paths))
	for ii, path := range paths {
		parts[ii] = strings.Split(filepath.Clean(path), string(filepath.Separator))
	}
	for depth := 1; ; depth++ {
		seen := make(map[string]bool, len(paths))
		unique, exhausted := true, true
		for ii, p := range parts {
			start := max(len(p)-depth, 0)
			if start > 0 {
				exhausted = false
			}
			names[ii] = strings.Join(p[start:], string(filepath.Separator))
			if seen[names[ii]] {
				unique = false
			}
			seen[names[ii]] = true
		}
		if unique || exhausted {
			return names
		}
	}
}

// Convert loads the checkpoint at path (typically a .safetensors file) and saves it as a GoMLX
// checkpoint in dir.
func Convert(ctx context.Context, path, dir string) error {
	gctx, err := model.LoadContext(ctx, path)
	if err != nil {
		return err
	}
	handler, err := checkpointHandler(gctx, dir)
	if err != nil {
		return err
	}
	return errors.WithMessagef(handler.Save(), "saving checkpoint to %q", dir)
}

// Export loads the checkpoint at path and saves it as a .safetensors file in location.
func Export(ctx context.Context, path, location string) error {
	if !strings.HasSuffix(strings.ToLower(location), model.SafetensorsExt) {
		return errors.Errorf("export location %q must have the %s extension", location, model.SafetensorsExt)
	}
	gctx, err := model.LoadContext(ctx, path)
	if err != nil {
		return err
	}
	return model.SaveSafetensors(ctx, gctx, location)
}

// checkpointHandler creates the handler to save gctx in dir, which must not exist or be empty.
func checkpointHandler(gctx *gomlxctx.Context, dir string) (*checkpoints.Handler, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "reading %q", dir)
	}
	if len(entries) > 0 {
		return nil, errors.Errorf("checkpoint directory %q is not empty", dir)
	}
	handler, err := checkpoints.Build(gctx).Dir(dir).Keep(-1).Done()
	return handler, errors.WithMessagef(err, "creating checkpoint in %q", dir)
}
