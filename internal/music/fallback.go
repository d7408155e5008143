package music

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
)

const (
	SampleRate = 22050

	DefaultFrequency = 280
	MinFrequency     = 120
	MaxFrequency     = 700

	DefaultDurationSec = 8
	MinDurationSec     = 1
	MaxDurationSec     = 20

	FallbackDurationMs = 8000
	FallbackFormat     = "audio/wav"
	FallbackPath       = "/api/fallback/audio"

	amplitude = 0.15
)

// ClampFrequency maps a requested tone frequency into range; zero selects the
// default.
func ClampFrequency(hz int) int {
	return clampDefault(hz, DefaultFrequency, MinFrequency, MaxFrequency)
}

// ClampDuration maps a requested duration in seconds into range; zero selects
// the default.
func ClampDuration(sec int) int {
	return clampDefault(sec, DefaultDurationSec, MinDurationSec, MaxDurationSec)
}

func clampDefault(v, def, lo, hi int) int {
	switch {
	case v == 0:
		return def
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// FallbackFrequency derives a stable tone in [220, 400) from seed.
func FallbackFrequency(seed string) int {
	sum := 0
	for _, r := range seed {
		sum += int(r)
	}
	return 220 + sum%180
}

// FallbackURL returns the relative URL of the fallback tone for a run.
func FallbackURL(runID, traceID string) string {
	seed := runID + "-" + traceID
	q := url.Values{}
	q.Set("seed", seed)
	q.Set("freq", strconv.Itoa(FallbackFrequency(seed)))
	return FallbackPath + "?" + q.Encode()
}

// WAVSize is the byte length of a tone of sec seconds.
func WAVSize(sec int) int {
	return 44 + sec*SampleRate*2
}

// WriteWAV renders a 16-bit mono PCM tone with a slow amplitude wobble. freq
// and sec are clamped.
func WriteWAV(w io.Writer, freq, sec int) error {
	freq, sec = ClampFrequency(freq), ClampDuration(sec)
	samples := sec * SampleRate
	dataLen := samples * 2

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+dataLen))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1)
	binary.LittleEndian.PutUint16(header[22:], 1)
	binary.LittleEndian.PutUint32(header[24:], SampleRate)
	binary.LittleEndian.PutUint32(header[28:], SampleRate*2)
	binary.LittleEndian.PutUint16(header[32:], 2)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(dataLen))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}

	buf := make([]byte, 2*SampleRate)
	for start := 0; start < samples; start += SampleRate {
		n := min(SampleRate, samples-start)
		for k := 0; k < n; k++ {
			i := start + k
			t := float64(i) / SampleRate
			v := math.Sin(2*math.Pi*float64(freq)*t) * (math.Sin(float64(i)/20)*0.4 + 0.6)
			v = math.Max(-1, math.Min(1, v))
			binary.LittleEndian.PutUint16(buf[2*k:], uint16(int16(math.Round(v*32767*amplitude))))
		}
		if _, err := w.Write(buf[:2*n]); err != nil {
			return fmt.Errorf("write wav samples: %w", err)
		}
	}
	return nil
}
