// Package asset manages decoded impulse responses shared between
// convolution nodes.
//
// A [Pool] resolves a [Reference] (identifier plus [Category]) through a
// [Loader] and hands out reference-counted [Handle] values. Entries are
// cached weakly by default: an impulse stays in memory while a handle is
// held or the garbage collector has not reclaimed it, so switching back to a
// recently used impulse is cheap without pinning every file ever loaded.
// Strong policies keep the entry until it is evicted.
//
// Decoding is delegated to loaders. [MemoryLoader] serves registered
// buffers; [FileLoader] reads WAV files below a root directory, one
// subdirectory per category.
package asset
