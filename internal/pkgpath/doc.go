// Package pkgpath parses package request paths of the form
// /(@scope/)name(@version)(/file) and validates npm package names.
package pkgpath
