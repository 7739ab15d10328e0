package metadata

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	tempoFrameSize = 512
	tempoHop       = 256
	minBPM         = 60
	maxBPM         = 200
	// Listeners lock onto pulses near this rate, used to pick between
	// octave related peaks
	preferredBPM = 120
)

// EstimateTempo guesses the beats per minute of mono PCM samples. The
// energy envelope is turned into an onset strength curve whose
// autocorrelation peak inside 60-200 BPM gives the beat period.
func EstimateTempo(samples []int16, sampleRate int) (float64, bool) {
	if sampleRate <= 0 || len(samples) < tempoFrameSize*2 {
		return 0, false
	}

	fps := float64(sampleRate) / tempoHop
	onset := smooth(onsetStrength(energyEnvelope(samples)))

	lagMin := int(math.Floor(60 * fps / maxBPM))
	lagMax := int(math.Ceil(60 * fps / minBPM))
	if lagMin < 1 {
		lagMin = 1
	}
	if len(onset) < lagMax*2 {
		return 0, false
	}

	ac := autocorrelation(onset, lagMax+1)

	best, bestScore := 0, 0.0
	for lag := lagMin; lag <= lagMax; lag++ {
		bpm := 60 * fps / float64(lag)
		if bpm < minBPM || bpm > maxBPM {
			continue
		}

		if score := ac[lag] * tempoWeight(bpm); score > bestScore {
			best, bestScore = lag, score
		}
	}

	if best == 0 {
		return 0, false
	}

	// Parabolic interpolation around the integer peak
	period := float64(best)
	if best > 1 && best+1 < len(ac) {
		l, c, r := ac[best-1], ac[best], ac[best+1]
		if d := l - 2*c + r; d < 0 {
			if shift := 0.5 * (l - r) / d; math.Abs(shift) < 1 {
				period += shift
			}
		}
	}

	return 60 * fps / period, true
}

// autocorrelation is the unbiased autocorrelation of x for lags 1 to
// maxLag, taken from the power spectrum. x is zero padded so the circular
// correlation of the FFT equals the linear one.
func autocorrelation(x []float64, maxLag int) []float64 {
	n := len(x)
	size := 1
	for size < 2*n {
		size <<= 1
	}

	padded := make([]float64, size)
	copy(padded, x)

	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	raw := fft.Sequence(nil, coeff)

	ac := make([]float64, maxLag+1)
	for lag := 1; lag <= maxLag && lag < n; lag++ {
		// Sequence does not normalise the inverse transform
		ac[lag] = raw[lag] / float64(size) / float64(n-lag)
	}

	return ac
}

func energyEnvelope(samples []int16) []float64 {
	n := (len(samples)-tempoFrameSize)/tempoHop + 1
	env := make([]float64, n)

	for i := range n {
		var sum float64
		for _, s := range samples[i*tempoHop : i*tempoHop+tempoFrameSize] {
			v := float64(s) / math.MaxInt16
			sum += v * v
		}
		env[i] = math.Log1p(sum * 100)
	}

	return env
}

// onsetStrength is the half wave rectified first difference of the
// envelope, mean removed
func onsetStrength(env []float64) []float64 {
	out := make([]float64, len(env))

	var mean float64
	for i := 1; i < len(env); i++ {
		out[i] = max(0, env[i]-env[i-1])
		mean += out[i]
	}
	mean /= float64(len(out))

	for i := range out {
		out[i] -= mean
	}

	return out
}

func smooth(in []float64) []float64 {
	kernel := []float64{1, 2, 3, 2, 1}
	out := make([]float64, len(in))

	for i := range in {
		var sum, wsum float64
		for k, w := range kernel {
			j := i + k - len(kernel)/2
			if j < 0 || j >= len(in) {
				continue
			}
			sum += in[j] * w
			wsum += w
		}
		out[i] = sum / wsum
	}

	return out
}

// tempoWeight is a log-gaussian prior one octave wide
func tempoWeight(bpm float64) float64 {
	o := math.Log2(bpm / preferredBPM)
	return math.Exp(-0.5 * o * o)
}
