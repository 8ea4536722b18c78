// Package conv provides zero-latency partitioned convolution for real-time
// audio.
//
// An impulse response is split into a head and a tail. The head uses
// partitions of the processing block size and is convolved on the calling
// thread, so the first output sample already carries the direct sound. The
// tail uses partitions that double in size (2B, 4B, ... up to a cap) and is
// computed by a background [Worker]. Each tail stage starts two of its own
// partitions into the impulse, which gives the worker two partition periods
// per chunk.
//
// # Usage
//
// Build a kernel once and install it on an engine, or on a [Bank] that
// holds one kernel per channel:
//
//	w := conv.NewWorker()
//	w.Start(ctx)
//	defer w.Close()
//
//	e := conv.NewEngine(conv.WithWorker(w))
//	if err := e.Prepare(256, 48000); err != nil { ... }
//	if err := e.SetImpulseResponse(ir); err != nil { ... }
//
//	// audio callback
//	err := e.Process(in, out)
//
// Without a worker the tail is computed inline during Process. Output is
// then bit-for-bit reproducible, which suits offline rendering and tests.
//
// # Real-time behaviour
//
// Process does not allocate, lock or block. A new impulse response is
// partitioned off the audio thread and primed with the recorded input, so
// the reverb tail of earlier input carries over into the new impulse. The
// audio thread feeds it the last few blocks and switches every channel of
// a Bank at the same block boundary; concurrent updates resolve to the most
// recent one. When the worker falls behind, the late tail chunk is replaced
// by silence and counted in [Engine.Missed]; the head is never affected.
//
// [Direct] is the O(N*M) reference convolution used to verify the engine.
package conv
