package audio

import "context"

// Stream is a live, mono float32 audio stream sourced from one browser tab.
//
// A Stream is obtained from [Capturer.Capture] and stays open until
// [Stream.Stop] is called or the underlying source ends. Only the audio host
// ever holds a Stream.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// SampleRate returns the stream's sample rate in Hz.
	SampleRate() int

	// Blocks returns the read-only channel of sample blocks. The channel is
	// closed when the stream stops or the source ends. Block size is
	// implementation-defined.
	Blocks() <-chan []float32

	// Stop stops every underlying track and closes the Blocks channel. It is
	// safe to call more than once; later calls return nil.
	Stop() error
}

// Capturer grants access to a tab's audio given a capture stream identifier
// minted by the browser runtime.
//
// Implementations must be safe for concurrent use.
type Capturer interface {
	// Capture opens the stream identified by streamID. ctx governs the
	// acquisition only; the returned Stream lives until Stop.
	//
	// Returns an error wrapping protocol.ErrStreamAcquisition when the
	// identifier is unknown, expired, or the source cannot be opened.
	Capture(ctx context.Context, streamID string) (Stream, error)
}
