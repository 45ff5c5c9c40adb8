// Package gofat32 implements a cached, concurrent, read/write FAT32
// virtual-filesystem layer: a bounded write-back cluster cache, an
// allocation-table manager, a directory-entry codec, a FAT32 vnode, and a
// path-resolving VFS shell on top of them.
package gofat32
