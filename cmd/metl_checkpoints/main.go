// metl_checkpoints inspects and converts model checkpoints.
//
// It accepts one or more checkpoints (GoMLX checkpoint directories or .safetensors files) and,
// when more than one is given, displays them side by side:
//
//	metl_checkpoints -summary -params models/gb1 models/gb1_v2.safetensors
//
// It also converts between the two formats:
//
//	metl_checkpoints -convert=models/gb1 models/gb1.safetensors
//	metl_checkpoints -export=models/gb1.safetensors models/gb1
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the model sizes.")
	flagParams  = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars    = flag.Bool("vars", false, "Lists the variables.")
	flagStats   = flag.Bool("stats", true, "With -vars, include statistics of the variable values (requires a backend).")
	flagConvert = flag.String("convert", "", "Convert the given .safetensors checkpoint into a GoMLX checkpoint in this directory.")
	flagExport  = flag.String("export", "", "Export the given checkpoint as a .safetensors file to this location (local path or URL).")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint to read from. See 'metl_checkpoints -help'")
		os.Exit(1)
	}
	if (*flagConvert != "" || *flagExport != "") && len(args) != 1 {
		klog.Errorf("-convert and -export take exactly one checkpoint, got %d. See 'metl_checkpoints -help'.", len(args))
		os.Exit(1)
	}
	if !*flagSummary && !*flagParams && !*flagVars && *flagConvert == "" && *flagExport == "" {
		*flagSummary = true
	}

	ctx := context.Background()
	if *flagConvert != "" {
		must.M(Convert(ctx, args[0], *flagConvert))
		fmt.Printf("Checkpoint %q converted to %q\n", args[0], *flagConvert)
	}
	if *flagExport != "" {
		must.M(Export(ctx, args[0], *flagExport))
		fmt.Printf("Checkpoint %q exported to %q\n", args[0], *flagExport)
	}
	if *flagSummary || *flagParams || *flagVars {
		must.M(Report(ctx, args))
	}
}
