// imgtable-inspect is a read-only diagnostic tool for an Image Table's
// metadata file.
//
// Usage:
//
//	imgtable-inspect --metadata <path> [--format <name>]
//
// It prints the entry count, MRU order, and per-entry table index/source
// id recorded in the metadata file. It never opens or mutates the data
// file - no rendering, no image decoding, inspection only.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/castlecache/imagetable/pkg/imagetable"
	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("imgtable-inspect", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	metadataPath := flagSet.String("metadata", "", "path to a <format_name>.metadata file")
	formatName := flagSet.String("format", "", "format name to print alongside the entry count (informational only)")

	err := flagSet.Parse(args)
	if err != nil {
		return 2
	}

	if *metadataPath == "" {
		fmt.Fprintln(errOut, "error: --metadata is required")
		flagSet.PrintDefaults()

		return 2
	}

	snap, err := imagetable.InspectMetadata(*metadataPath)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}

	if *formatName != "" {
		fmt.Fprintf(out, "format: %s\n", *formatName)
	}

	fmt.Fprintf(out, "entries: %d\n", len(snap.Entries))
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "%-4s %-36s %-36s %s\n", "mru", "entity_id", "source_image_id", "table_index")

	for _, e := range snap.Entries {
		mru := fmt.Sprintf("%d", e.MRUIndex)
		if e.MRUIndex < 0 {
			mru = "-"
		}

		fmt.Fprintf(out, "%-4s %-36s %-36s %d\n", mru, e.EntityID.String(), e.SourceImageID.String(), e.TableIndex)
	}

	return 0
}
