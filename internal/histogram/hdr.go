package histogram

import (
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// hdrMin and hdrMax bound the exported histogram in microseconds
	// (1µs to 1 hour), 3 significant figures.
	hdrMin     = 1
	hdrMax     = 3600000000
	hdrSigFigs = 3
)

// LatencyStats summarises the histogram for reporting.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P99    time.Duration `json:"p99"`
	Count  uint64        `json:"count"`
}

// Stats returns the summary of a histogram holding nanosecond values.
func (h *Histogram) Stats() LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()),
		Max:    time.Duration(h.Max()),
		Mean:   time.Duration(h.Average()),
		StdDev: time.Duration(h.StdDev()),
		P50:    time.Duration(h.Quantile(0.50)),
		P90:    time.Duration(h.Quantile(0.90)),
		P99:    time.Duration(h.Quantile(0.99)),
		Count:  h.Count(),
	}
}

// HDR converts the slot counts of a nanosecond histogram into an HDR
// histogram with microsecond resolution. Each slot is recorded at its
// midpoint, clamped to the HDR range.
func (h *Histogram) HDR() (*hdrhistogram.Histogram, error) {
	hist := hdrhistogram.New(hdrMin, hdrMax, hdrSigFigs)

	for _, b := range h.Snapshot() {
		micros := int64((b.Low + b.Width/2) / uint64(time.Microsecond))
		if micros < hdrMin {
			micros = hdrMin
		}
		if micros > hdrMax {
			micros = hdrMax
		}
		if err := hist.RecordValues(micros, int64(b.Count)); err != nil {
			return nil, fmt.Errorf("failed to record slot %d: %w", b.Low, err)
		}
	}

	return hist, nil
}

// EncodeHDR returns the HDR V2 compressed encoding of the histogram, the
// base64 text form read by HdrHistogram log tooling and hdrhistogram.Decode.
func (h *Histogram) EncodeHDR() (string, error) {
	hist, err := h.HDR()
	if err != nil {
		return "", err
	}

	raw, err := hist.Encode(hdrhistogram.V2CompressedEncodingCookieBase)
	if err != nil {
		return "", fmt.Errorf("failed to encode HDR histogram: %w", err)
	}

	return string(raw), nil
}
