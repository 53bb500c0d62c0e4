// Package tarball resolves a requested path inside a package tarball.
//
// The archive is consumed in a single forward pass: Members yields one member
// at a time and does not advance until the caller's loop body returns. Search
// builds a path index while scanning and keeps the body of at most one file,
// the current best candidate for the requested path.
package tarball
