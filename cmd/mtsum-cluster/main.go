// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mtsum/mtsum"
	"github.com/mtsum/mtsum/cmd/internal/cli"
	"github.com/mtsum/mtsum/pkg/cluster"
	"github.com/mtsum/mtsum/pkg/collective"
	"github.com/mtsum/mtsum/pkg/collective/ws"
	"github.com/mtsum/mtsum/pkg/dot"
	"github.com/mtsum/mtsum/pkg/hashalg"
	"github.com/mtsum/mtsum/pkg/logging"
	"github.com/mtsum/mtsum/pkg/partition"
)

var (
	processors    int    // flag variable, per-rank worker count
	algorithmName string // flag variable, digest algorithm
	graphOutput   bool   // flag variable, emit DOT instead of the root
	benchmark     bool   // flag variable, print elapsed time and throughput
	verbose       bool   // flag variable, verbose output
	verbosity     string // flag variable, log level
	rank          int    // flag variable, this process's rank
	ranks         int    // flag variable, cluster rank count
	coordinator   string // flag variable, rank 0 listen/dial address
	logger        logging.Logger
)

// errSilent marks failures already reported (or deliberately reported
// only by rank 0); main exits nonzero without printing it again.
var errSilent = errors.New("silent exit")

// dialRetry is how long a non-zero rank keeps retrying the coordinator
// before giving up.
const dialRetry = 30 * time.Second

func connect(ctx context.Context) (collective.Transport, error) {
	if rank == 0 {
		return ws.Listen(coordinator, ranks, logger)
	}
	deadline := time.Now().Add(dialRetry)
	for {
		t, err := ws.Dial(ctx, coordinator, rank, ranks, logger)
		if err == nil {
			return t, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Run is the underlying procedure for one rank of the cluster command.
func Run(cmd *cobra.Command, args []string) (err error) {
	logger, err = cli.NewLogger(cmd, verbosity)
	if err != nil {
		return err
	}
	if !partition.PowerOfTwo(ranks) {
		if rank == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Number of ranks must be a power of 2")
		}
		return errSilent
	}
	if rank < 0 || rank >= ranks {
		return fmt.Errorf("rank %d outside 0..%d", rank, ranks-1)
	}
	if processors < 1 {
		if rank == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Number of processors must be at least 1")
		}
		return errSilent
	}
	alg, err := hashalg.Lookup(algorithmName)
	if err != nil {
		if rank == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Invalid algorithm: %s\n", algorithmName)
		}
		return errSilent
	}

	path := args[0]
	fs := afero.NewOsFs()
	ctx := cmd.Context()

	t, err := connect(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	d := cluster.New(t, alg, fs, logger, cluster.Options{Workers: processors})

	out := cmd.OutOrStdout()
	if verbose && rank == 0 {
		parts, size, err := d.Partitions(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Algorithm: %s\n", alg.Name())
		fmt.Fprintf(out, "Number of processors: %d\n", processors)
		fmt.Fprintf(out, "File size: %d bytes\n", size)
		fmt.Fprintf(out, "Size per rank: %d bytes\n", parts[0].Size)
		for i, p := range parts {
			fmt.Fprintf(out, "Rank %d: offset=%d, size=%d\n", i, p.Offset, p.Size)
		}
	}

	t0 := time.Now()
	tree, err := d.Run(ctx, path)
	if err != nil {
		return err
	}
	elapsed := time.Since(t0)

	if rank != 0 {
		return nil
	}
	if graphOutput {
		if err := dot.Render(out, tree); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, tree.Hex())
	}
	if verbose || benchmark {
		size, err := fs.Stat(path)
		if err == nil {
			cli.PrintTiming(out, elapsed, size.Size())
		}
	}
	return nil
}

func main() {
	c := &cobra.Command{
		Use:   "mtsum-cluster path",
		Args:  cobra.ExactArgs(1),
		Short: "Distributed parallel Merkle tree digest of a file",
		Long: `Computes the Merkle tree root hash of a file across a cluster of ranks
sharing a filesystem.

Each rank hashes its own partition of the file with multiple processors;
rank 0 gathers the per-rank roots, folds them into the global root and
prints it. Rank wiring can come from flags or from MTSUM_RANK,
MTSUM_RANKS and MTSUM_COORDINATOR in the environment.`,
		RunE:         Run,
		SilenceUsage: true,
	}

	c.Flags().IntVarP(&processors, "processors", "p", 8, "number of processors to use per rank")
	c.Flags().StringVarP(&algorithmName, "algorithm", "a", "sha256",
		"hashing algorithm to use, one of "+strings.Join(hashalg.Names(), ", "))
	c.Flags().BoolVarP(&graphOutput, "graph", "g", false, "output the merkle tree as DOT graph")
	c.Flags().BoolVarP(&benchmark, "benchmark", "b", false, "enable benchmark")
	c.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	c.Flags().StringVar(&verbosity, "verbosity", "1", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	c.Flags().IntVar(&rank, "rank", 0, "this process's rank")
	c.Flags().IntVar(&ranks, "ranks", 1, "number of ranks in the cluster")
	c.Flags().StringVar(&coordinator, "coordinator", "127.0.0.1:9384", "rank 0 collective address")

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
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}
