// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mtsum/mtsum"
	"github.com/mtsum/mtsum/cmd/internal/cli"
	"github.com/mtsum/mtsum/pkg/builder"
	"github.com/mtsum/mtsum/pkg/dot"
	"github.com/mtsum/mtsum/pkg/fileio"
	"github.com/mtsum/mtsum/pkg/hashalg"
	"github.com/mtsum/mtsum/pkg/logging"
)

var (
	processors    int    // flag variable, worker count
	algorithmName string // flag variable, digest algorithm
	graphOutput   bool   // flag variable, emit DOT instead of the root
	benchmark     bool   // flag variable, print elapsed time and throughput
	verbose       bool   // flag variable, verbose output
	verbosity     string // flag variable, log level
	logger        logging.Logger
)

// Sum is the underlying procedure for the CLI command.
func Sum(cmd *cobra.Command, args []string) (err error) {
	logger, err = cli.NewLogger(cmd, verbosity)
	if err != nil {
		return err
	}
	if processors < 1 {
		return fmt.Errorf("number of processors must be at least 1")
	}
	alg, err := hashalg.Lookup(algorithmName)
	if err != nil {
		return fmt.Errorf("invalid algorithm: %s", algorithmName)
	}

	path := args[0]
	fs := afero.NewOsFs()
	size, err := fileio.NewReader(fs).Size(path)
	if err != nil {
		return fmt.Errorf("error opening file: %s", path)
	}

	out := cmd.OutOrStdout()
	if verbose {
		fmt.Fprintf(out, "Algorithm: %s\n", alg.Name())
		fmt.Fprintf(out, "Number of processors: %d\n", processors)
		fmt.Fprintf(out, "File size: %d bytes\n", size)
	}

	t0 := time.Now()
	b := builder.New(alg, fs, logger, builder.Options{Workers: processors})
	tree, err := b.Build(cmd.Context(), path)
	if err != nil {
		return err
	}
	elapsed := time.Since(t0)

	if graphOutput {
		if err := dot.Render(out, tree); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, tree.Hex())
	}
	if verbose || benchmark {
		cli.PrintTiming(out, elapsed, size)
	}
	return nil
}

func main() {
	c := &cobra.Command{
		Use:   "mtsum path",
		Args:  cobra.ExactArgs(1),
		Short: "Parallel Merkle tree digest of a file",
		Long: `Computes the Merkle tree root hash of a file using multiple processors.

The file is split into blocks of at most 128 MiB which are read and hashed
concurrently; the root hash uniquely identifies the file contents for the
chosen algorithm.`,
		RunE:         Sum,
		SilenceUsage: true,
	}

	c.Flags().IntVarP(&processors, "processors", "p", 8, "number of processors to use")
	c.Flags().StringVarP(&algorithmName, "algorithm", "a", "sha256",
		"hashing algorithm to use, one of "+strings.Join(hashalg.Names(), ", "))
	c.Flags().BoolVarP(&graphOutput, "graph", "g", false, "output the merkle tree as DOT graph")
	c.Flags().BoolVarP(&benchmark, "benchmark", "b", false, "enable benchmark")
	c.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	c.Flags().StringVar(&verbosity, "verbosity", "1", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")

	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), mtsum.Version)
		},
	})

	c.SetOutput(c.OutOrStdout())
	if err := cli.BindEnv(c); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if err := c.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
