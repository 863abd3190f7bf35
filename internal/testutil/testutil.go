// Package testutil provides test helpers for msgdb tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices, etc.)
//   - store_helpers.go: engine test setup (NewTestStore, NewTestDatabase)
//   - builders.go: message builders
//   - fs_helpers.go: filesystem operations (WriteFile, MustExist)
//   - encoding.go: encoded text samples
package testutil
