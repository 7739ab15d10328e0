// Package util contains any functions used across the application that don't match
// any other package
package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandStr returns a random alphanumeric string of length n. Used for request
// ids and storage file names, both need to be URL safe.
func RandStr(n int) string {
	return gonanoid.MustGenerate(charset, n)
}
