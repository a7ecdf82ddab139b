// SPDX-License-Identifier: MIT

// Package version carries build identification, populated via ldflags.
package version

var (
	// Version is the release the binary reports on /api/status.
	Version = "2.0.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
