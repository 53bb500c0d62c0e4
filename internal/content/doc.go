// Package content computes the integrity digest and media type of files served
// from package tarballs.
package content
