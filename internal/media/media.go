// Package media turns raw capture artifacts into the byte payloads recognition providers accept.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/rbright/notecap/internal/audio"
)

const (
	DefaultMaxWidth = 1024
	// JPEGQuality is the fixed re-encode quality for photo uploads.
	JPEGQuality = 90
)

var (
	ErrArtifactUnreadable = errors.New("artifact unreadable")
	ErrEncodingFailed     = errors.New("image encoding failed")
)

var supportedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Preprocessor reads artifacts from fs and normalizes them for upload.
type Preprocessor struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New builds a Preprocessor. A nil logger drops format warnings.
func New(fs afero.Fs, logger *slog.Logger) *Preprocessor {
	return &Preprocessor{fs: fs, logger: logger}
}

// PrepareAudio returns the recording bytes unchanged. A header that is not
// 16 kHz mono 16-bit PCM is logged but not converted.
func (p *Preprocessor) PrepareAudio(ctx context.Context, path string) ([]byte, error) {
	data, err := p.read(ctx, path)
	if err != nil {
		return nil, err
	}

	if format, ok := wavFormat(data); !ok {
		p.warn("audio artifact is not a WAV file", "path", path)
	} else if format != expectedWAV {
		p.warn("audio artifact format differs from recording configuration",
			"path", path,
			"sample_rate", format.sampleRate,
			"channels", format.channels,
			"bit_depth", format.bitDepth,
		)
	}
	return data, nil
}

// PrepareImage decodes the artifact, shrinks it to at most maxWidth pixels
// wide keeping the aspect ratio, and re-encodes it as JPEG.
func (p *Preprocessor) PrepareImage(ctx context.Context, path string, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return nil, err
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), supportedImageTypes...) {
		return nil, fmt.Errorf("%w: %s has unsupported type %s", ErrArtifactUnreadable, path, mtype.String())
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrArtifactUnreadable, mtype.String(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := resize(src, maxWidth)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return out.Bytes(), nil
}

// resize scales src down to maxWidth and flattens it onto white, since JPEG has no alpha.
func resize(src image.Image, maxWidth int) *image.RGBA {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxWidth {
		height = (height*maxWidth + width/2) / width
		if height < 1 {
			height = 1
		}
		width = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

func (p *Preprocessor) read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactUnreadable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrArtifactUnreadable, path)
	}
	return data, nil
}

func (p *Preprocessor) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

type wavHeader struct {
	sampleRate int
	channels   int
	bitDepth   int
}

var expectedWAV = wavHeader{sampleRate: audio.SampleRate, channels: audio.Channels, bitDepth: audio.BitDepth}

func wavFormat(data []byte) (wavHeader, bool) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return wavHeader{}, false
	}
	return wavHeader{
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
	}, true
}
