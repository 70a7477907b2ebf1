// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mtsum

var (
	version    = "1.0.3" // manually set semantic version number
	commitHash string    // automatically set git commit hash

	// Version is the reported release string of the mtsum binaries.
	Version = func() string {
		if commitHash != "" {
			return version + "-" + commitHash
		}
		return version + "-dev"
	}()
)
