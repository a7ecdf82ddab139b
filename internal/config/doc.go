// SPDX-License-Identifier: MIT

// Package config loads process settings from the environment and owns the
// per-role generation limits.
package config
