// Package cryptoutil holds the digest helpers used to identify uploads:
// SHA-256 over buffers and streams, and constant-time digest comparison.
package cryptoutil
