// Package node provides a multi-channel convolution processor for audio
// graphs.
//
// A [Convolution] node owns a [ChannelArray], a [conv.Bank] with one
// convolution state per channel, and a background [conv.Worker] for the
// long tail of the impulse. The impulse is selected by identifier through a
// [Resolver] (usually an [asset.Pool]); resolving, preprocessing and
// partitioning all happen off the audio thread. The new impulse is primed
// with the recent input and swapped in for all channels at the same block,
// so the reverb tail carries over and Process never blocks on a load.
//
// Channel mapping: impulse channel k feeds node channel k when the counts
// match, and a mono impulse is shared by every channel. Any other
// combination is rejected with ErrConfiguration.
package node
