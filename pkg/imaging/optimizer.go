// Package imaging prepares uploaded invoice photos for storage and
// extraction: size-bounded JPEG re-encoding plus content hashing.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"math"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension bounds the longest image side after resize.
	DefaultMaxDimension = 1920
	// DefaultTargetKB is the encoded size the quality ladder aims for.
	DefaultTargetKB = 500
	// DefaultStartQuality is the first JPEG quality tried.
	DefaultStartQuality = 85
	// DefaultMinQuality is the floor of the quality ladder.
	DefaultMinQuality = 60
	// qualityStep is how far each ladder iteration drops quality.
	qualityStep = 5
	// fastPathKB is the size under which an in-bounds JPEG passes through.
	fastPathKB = 600
)

// Options tune the optimizer. Zero values fall back to the defaults.
type Options struct {
	MaxDimension int
	TargetKB     int
	StartQuality int
	MinQuality   int
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.TargetKB <= 0 {
		o.TargetKB = DefaultTargetKB
	}
	if o.StartQuality <= 0 {
		o.StartQuality = DefaultStartQuality
	}
	if o.MinQuality <= 0 {
		o.MinQuality = DefaultMinQuality
	}
	return o
}

// Dimensions of an image in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Metadata describes what the optimizer did to one image.
type Metadata struct {
	OriginalSizeKB     float64    `json:"original_size_kb"`
	OptimizedSizeKB    float64    `json:"optimized_size_kb"`
	OriginalDimensions Dimensions `json:"original_dimensions"`
	FinalDimensions    Dimensions `json:"final_dimensions"`
	// CompressionRatio is the percentage of size shed by optimization.
	CompressionRatio float64 `json:"compression_ratio"`
	Quality          int     `json:"quality"`
	// Original is true when the fast path returned the bytes unchanged.
	Original bool `json:"original"`
	// Warnings are non-fatal quality findings. They are logged, never raised.
	Warnings []string `json:"warnings,omitempty"`
}

// Result carries the output bytes and their metadata.
type Result struct {
	Bytes []byte
	Meta  Metadata
}

// Optimizer re-encodes images as bounded JPEGs.
type Optimizer struct {
	opts   Options
	logger *slog.Logger
}

// NewOptimizer creates an optimizer. logger may be nil.
func NewOptimizer(opts Options, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "imaging"),
	}
}

// Optimize converts raw upload bytes into a JPEG whose longest side is
// at most MaxDimension, stepping encode quality down from StartQuality
// by 5 until the output fits TargetKB or quality would drop below
// MinQuality. JPEG inputs already within bounds and under 600 KB pass
// through untouched.
func (o *Optimizer) Optimize(raw []byte, contentType string) (*Result, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("imaging: empty input")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("imaging: decoding %s header: %w", contentType, err)
	}

	origDims := Dimensions{Width: cfg.Width, Height: cfg.Height}
	origKB := toKB(len(raw))

	if format == "jpeg" &&
		len(raw) <= fastPathKB*1024 &&
		cfg.Width <= o.opts.MaxDimension &&
		cfg.Height <= o.opts.MaxDimension {
		meta := Metadata{
			OriginalSizeKB:     origKB,
			OptimizedSizeKB:    origKB,
			OriginalDimensions: origDims,
			FinalDimensions:    origDims,
			CompressionRatio:   0,
			Quality:            0,
			Original:           true,
		}
		meta.Warnings = qualityWarnings(origDims, len(raw))
		o.logWarnings(meta.Warnings)
		return &Result{Bytes: raw, Meta: meta}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("imaging: decoding %s: %w", contentType, err)
	}

	flat := flattenOnWhite(src)
	resized := o.resize(flat)
	finalBounds := resized.Bounds()
	finalDims := Dimensions{Width: finalBounds.Dx(), Height: finalBounds.Dy()}

	encoded, quality, err := o.encodeToTarget(resized)
	if err != nil {
		return nil, err
	}

	optKB := toKB(len(encoded))
	meta := Metadata{
		OriginalSizeKB:     origKB,
		OptimizedSizeKB:    optKB,
		OriginalDimensions: origDims,
		FinalDimensions:    finalDims,
		CompressionRatio:   compressionRatio(origKB, optKB),
		Quality:            quality,
	}
	meta.Warnings = qualityWarnings(finalDims, len(encoded))
	o.logWarnings(meta.Warnings)

	return &Result{Bytes: encoded, Meta: meta}, nil
}

// flattenOnWhite composites the image over a white background so
// transparent regions do not turn black in the JPEG.
func flattenOnWhite(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}

// resize scales the image down so max(width, height) <= MaxDimension,
// preserving aspect ratio. Images already within bounds are returned
// unchanged.
func (o *Optimizer) resize(src *image.RGBA) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	maxDim := o.opts.MaxDimension
	if w <= maxDim && h <= maxDim {
		return src
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}

// encodeToTarget runs the quality ladder: start at StartQuality and
// drop by 5 until the encoding fits TargetKB or the floor is reached.
func (o *Optimizer) encodeToTarget(img image.Image) ([]byte, int, error) {
	quality := o.opts.StartQuality
	target := o.opts.TargetKB * 1024

	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, 0, fmt.Errorf("imaging: jpeg encode at q%d: %w", quality, err)
		}
		if buf.Len() <= target || quality-qualityStep < o.opts.MinQuality {
			return append([]byte(nil), buf.Bytes()...), quality, nil
		}
		quality -= qualityStep
	}
}

// qualityWarnings flags images likely to extract poorly. Non-fatal.
func qualityWarnings(dims Dimensions, sizeBytes int) []string {
	var warnings []string

	minDim := dims.Width
	if dims.Height < minDim {
		minDim = dims.Height
	}
	if minDim < 600 {
		warnings = append(warnings, fmt.Sprintf("low resolution: smallest dimension %dpx is under 600px", minDim))
	}

	if dims.Width > 0 && dims.Height > 0 {
		ratio := float64(dims.Width) / float64(dims.Height)
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if ratio > 5 {
			warnings = append(warnings, fmt.Sprintf("extreme aspect ratio %.1f:1", ratio))
		}
	}

	if sizeBytes < 20*1024 {
		warnings = append(warnings, fmt.Sprintf("file very small: %.1f KB", toKB(sizeBytes)))
	}

	return warnings
}

func (o *Optimizer) logWarnings(warnings []string) {
	for _, w := range warnings {
		o.logger.Warn("image quality warning", "warning", w)
	}
}

func toKB(n int) float64 {
	return math.Round(float64(n)/1024.0*100) / 100
}

func compressionRatio(origKB, optKB float64) float64 {
	if origKB <= 0 {
		return 0
	}
	return math.Round((1-optKB/origKB)*1000) / 10
}
