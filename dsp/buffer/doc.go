// Package buffer provides planar multi-channel sample storage for
// allocation-free block processing. Storage is allocated once, typically
// while preparing a processor, and reused for every block.
package buffer
