// Package hherr holds the error classes shared by the storage packages.
// Callers classify failures with errors.Is against these sentinels.
package hherr

import "errors"

var (
	// ErrFormat marks a file that cannot be opened: bad magic, unsupported
	// version or section addresses outside the file.
	ErrFormat = errors.New("invalid file format")

	// ErrDecode marks a block, index or page whose payload is internally
	// inconsistent.
	ErrDecode = errors.New("corrupt payload")

	// ErrOutOfRange marks a vertex, edge or block id outside declared counts.
	ErrOutOfRange = errors.New("id out of range")

	// ErrIO marks a failed read of the backing file. A store that hit one
	// stays unusable until it is closed and reopened.
	ErrIO = errors.New("i/o failure")
)
