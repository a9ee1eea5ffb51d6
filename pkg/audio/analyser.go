package audio

import (
	"math"
	"math/cmplx"
	"sync"
)

// Analyser defaults, matching a browser AnalyserNode.
const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser keeps the most recent FFTSize samples of a stream and derives
// time-domain and frequency-domain views from them. It is safe for
// concurrent use: the capture pump writes while the host loops read.
type Analyser struct {
	mu        sync.Mutex
	size      int
	ring      []float32
	pos       int
	smoothing float64
	minDB     float64
	maxDB     float64
	window    []float64
	prev      []float64
}

// AnalyserOption configures an [Analyser].
type AnalyserOption func(*Analyser)

// WithSmoothing sets the time constant applied between successive spectra.
func WithSmoothing(s float64) AnalyserOption {
	return func(a *Analyser) { a.smoothing = s }
}

// WithDecibelRange sets the dB range mapped onto byte magnitudes.
func WithDecibelRange(minDB, maxDB float64) AnalyserOption {
	return func(a *Analyser) {
		a.minDB = minDB
		a.maxDB = maxDB
	}
}

// NewAnalyser creates an analyser with the given FFT size. size is rounded
// up to a power of two; values below 32 become 32.
func NewAnalyser(size int, opts ...AnalyserOption) *Analyser {
	n := 32
	for n < size {
		n <<= 1
	}
	a := &Analyser{
		size:      n,
		ring:      make([]float32, n),
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		window:    blackman(n),
		prev:      make([]float64, n/2),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// FFTSize returns the analysis window length.
func (a *Analyser) FFTSize() int { return a.size }

// FrequencyBinCount returns FFTSize/2.
func (a *Analyser) FrequencyBinCount() int { return a.size / 2 }

// Write appends samples to the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// FloatTimeDomainData copies the most recent min(len(dst), FFTSize) samples
// into dst in chronological order and returns the count written.
func (a *Analyser) FloatTimeDomainData(dst []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := min(len(dst), a.size)
	start := (a.pos - n + a.size) % a.size
	for i := range n {
		dst[i] = a.ring[(start+i)%a.size]
	}
	return n
}

// ByteFrequencyData fills dst with smoothed magnitudes in [0, 255], one per
// frequency bin, and returns the count written.
func (a *Analyser) ByteFrequencyData(dst []uint8) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf := make([]complex128, a.size)
	for i := range a.size {
		buf[i] = complex(float64(a.ring[(a.pos+i)%a.size])*a.window[i], 0)
	}
	fft(buf)

	bins := a.size / 2
	n := min(len(dst), bins)
	scale := 1.0 / float64(a.size)
	dbRange := a.maxDB - a.minDB
	for k := range bins {
		mag := cmplx.Abs(buf[k]) * scale
		a.prev[k] = a.smoothing*a.prev[k] + (1-a.smoothing)*mag
		if k >= n {
			continue
		}
		db := math.Inf(-1)
		if a.prev[k] > 0 {
			db = 20 * math.Log10(a.prev[k])
		}
		v := 255 * (db - a.minDB) / dbRange
		dst[k] = uint8(math.Max(0, math.Min(255, v)))
	}
	return n
}

// Level returns the average byte frequency magnitude scaled to [0, 100].
func (a *Analyser) Level() float64 {
	data := make([]uint8, a.FrequencyBinCount())
	n := a.ByteFrequencyData(data)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range data[:n] {
		sum += float64(v)
	}
	avg := sum / float64(n)
	return math.Min(100, avg/256*100)
}

// Reset clears the analysis window and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.prev)
	a.pos = 0
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range n {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// fft is an in-place iterative radix-2 transform. len(x) must be a power of
// two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := range size / 2 {
				u := x[start+k]
				v := x[start+k+size/2] * w
				x[start+k] = u + v
				x[start+k+size/2] = u - v
				w *= step
			}
		}
	}
}
