// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cli holds the plumbing shared by the mtsum binaries.
package cli

import (
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mtsum/mtsum/pkg/logging"
)

// NewLogger constructs the logger for a command at the requested
// verbosity. Log lines go to stderr; stdout is reserved for results.
func NewLogger(cmd *cobra.Command, verbosity string) (logging.Logger, error) {
	var logger logging.Logger
	switch verbosity {
	case "0", "silent":
		logger = logging.New(ioutil.Discard, 0)
	case "1", "error":
		logger = logging.New(cmd.ErrOrStderr(), logrus.ErrorLevel)
	case "2", "warn":
		logger = logging.New(cmd.ErrOrStderr(), logrus.WarnLevel)
	case "3", "info":
		logger = logging.New(cmd.ErrOrStderr(), logrus.InfoLevel)
	case "4", "debug":
		logger = logging.New(cmd.ErrOrStderr(), logrus.DebugLevel)
	case "5", "trace":
		logger = logging.New(cmd.ErrOrStderr(), logrus.TraceLevel)
	default:
		return nil, fmt.Errorf("unknown verbosity level %q", verbosity)
	}
	return logger, nil
}

// BindEnv wires the command's flags to MTSUM_-prefixed environment
// variables, so cluster launchers can export rank wiring the way MPI
// launchers do.
func BindEnv(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("mtsum")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if e := v.BindPFlag(f.Name, f); e != nil {
			err = e
			return
		}
		if !f.Changed && v.IsSet(f.Name) {
			if e := f.Value.Set(v.GetString(f.Name)); e != nil {
				err = e
			}
		}
	})
	return err
}

// PrintTiming writes the benchmark line: elapsed wall time and
// throughput derived from the file size.
func PrintTiming(w io.Writer, elapsed time.Duration, size int64) {
	seconds := elapsed.Seconds()
	gbPerSecond := float64(size) / 1e9 / seconds
	fmt.Fprintf(w, "%.2f s (%.2f GB/s)\n", seconds, gbPerSecond)
}
