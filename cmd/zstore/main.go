// Command zstore inspects table files.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bsm/zstore"
	"github.com/spf13/cobra"
)

var flags struct {
	from       string
	limit      int
	bitsPerKey int
}

func main() {
	root := &cobra.Command{
		Use:           "zstore",
		Short:         "Inspect zstore table files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	scan := &cobra.Command{
		Use:   "scan FILE",
		Short: "Print table entries in key order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), args[0])
		},
	}
	scan.Flags().StringVar(&flags.from, "from", "", "start at the first key >= this value")
	scan.Flags().IntVar(&flags.limit, "limit", 0, "maximum number of entries to print, 0 = unlimited")

	get := &cobra.Command{
		Use:   "get FILE KEY",
		Short: "Retrieve a single value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), args[0], args[1])
		},
	}
	get.Flags().IntVar(&flags.bitsPerKey, "bloom-bits", 0, "bloom filter bits per key the table was written with, 0 = no filter")

	root.AddCommand(scan, get)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "zstore:", err)
		os.Exit(1)
	}
}

func runScan(ctx context.Context, path string) error {
	table, err := zstore.Open(ctx, path, nil)
	if err != nil {
		return err
	}
	defer table.Close()

	cur := table.Cursor()
	defer cur.Close()

	if flags.from != "" {
		err = cur.Seek(ctx, []byte(flags.from))
	} else {
		err = cur.First(ctx)
	}
	if err != nil {
		return err
	}

	printed := 0
	for cur.Valid() {
		fmt.Printf("%q\t%q\n", cur.Key(), cur.Value())
		if printed++; flags.limit > 0 && printed >= flags.limit {
			break
		}
		if err := cur.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runGet(ctx context.Context, path, key string) error {
	opts := &zstore.Options{}
	if flags.bitsPerKey > 0 {
		opts.FilterPolicy = zstore.BloomFilter(flags.bitsPerKey)
	}

	table, err := zstore.Open(ctx, path, opts)
	if err != nil {
		return err
	}
	defer table.Close()

	val, err := table.Get(ctx, []byte(key))
	if err != nil {
		return err
	}
	fmt.Printf("%q\n", val)
	return nil
}
