package gofat32

import "errors"

// Sentinel error kinds. Errors from the cache, allocation table, vnode and
// VFS layers are checkpoint.Wrap chains that carry one of these, so callers
// can branch with errors.Is. The afero File adapter (file.go) additionally
// wraps errors with its own ErrReadFile/ErrWriteFile/ErrSeekFile/ErrReadDir.
var (
	// ErrNotFound is returned when a name lookup misses.
	ErrNotFound = errors.New("fat32: not found")
	// ErrExists is returned by an exclusive create against an existing name.
	ErrExists = errors.New("fat32: already exists")
	// ErrInvalid is returned for malformed input: illegal filename
	// characters, a name that is too long, an empty path, or an operation
	// attempted against the wrong vnode kind (e.g. write_at on a directory).
	ErrInvalid = errors.New("fat32: invalid argument")
	// ErrExhausted is returned when no free FAT entry or cache slot is
	// available to satisfy a request.
	ErrExhausted = errors.New("fat32: resource exhausted")
	// ErrIO is returned when the underlying block device failed a read or
	// write.
	ErrIO = errors.New("fat32: i/o error")
)
