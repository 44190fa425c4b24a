// Package osmem provides platform-specific helpers for obtaining and
// releasing anonymous address space directly from the operating system,
// bypassing the Go garbage-collected heap.
//
// This is the Go equivalent of the ::operator new / ::operator delete
// calls the allocator this module replaces used to obtain chunks: a
// real OS-backed byte range that the allocator alone owns and frees
// explicitly, not memory the garbage collector will ever scan or move.
package osmem
