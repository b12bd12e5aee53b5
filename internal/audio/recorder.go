package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/spf13/afero"
)

const (
	SampleRate = 16000
	BitDepth   = 16
	Channels   = 1

	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16
	pcmFormat      = 1
)

// WAVWriter encodes little-endian s16 PCM into a WAV container as it arrives.
type WAVWriter struct {
	mu      sync.Mutex
	enc     *wav.Encoder
	carry  []byte
	closed bool
}

// NewWAVWriter starts a 16 kHz mono 16-bit WAV stream on w.
func NewWAVWriter(w io.WriteSeeker) *WAVWriter {
	return &WAVWriter{enc: wav.NewEncoder(w, SampleRate, BitDepth, Channels, pcmFormat)}
}

// Write appends raw PCM. An odd trailing byte is held until the next write.
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.EOF
	}

	data := pcm
	if len(w.carry) > 0 {
		data = append(w.carry, pcm...)
		w.carry = nil
	}
	if len(data)%2 != 0 {
		w.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return len(pcm), nil
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           pcmToSamples(data),
		SourceBitDepth: BitDepth,
	}
	if err := w.enc.Write(buf); err != nil {
		return 0, fmt.Errorf("write wav: %w", err)
	}
	return len(pcm), nil
}

// Close finalizes the WAV header. The underlying writer stays open.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func pcmToSamples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// Recording streams one Pulse source into a WAV file until stopped.
type Recording struct {
	device Device

	file afero.File
	sink *WAVWriter

	client *pulse.Client
	stream *pulse.RecordStream

	stopOnce sync.Once
	stopErr  error
}

// StartRecording creates path on fs and starts a 16kHz mono s16 record stream into it.
// The recording stops on its own when ctx is cancelled.
func StartRecording(ctx context.Context, fs afero.Fs, selected Device, path string) (*Recording, error) {
	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording %q: %w", path, err)
	}

	rec := &Recording{
		device: selected,
		file:   file,
		sink:   NewWAVWriter(file),
	}

	client, err := newClient()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	rec.client = client

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		_ = rec.Stop()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	writer := pulse.NewWriter(writerFunc(rec.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("notecap voice note"),
	)
	if err != nil {
		_ = rec.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	rec.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = rec.Stop()
	}()

	return rec, nil
}

// Device returns recording metadata for logging and diagnostics.
func (r *Recording) Device() Device {
	return r.device
}

// Stop halts the stream and finalizes the WAV file exactly once.
func (r *Recording) Stop() error {
	r.stopOnce.Do(func() {
		if r.stream != nil {
			r.stream.Stop()
			r.stream.Close()
		}
		if r.client != nil {
			r.client.Close()
		}

		r.stopErr = errors.Join(r.sink.Close(), r.file.Close())
	})
	return r.stopErr
}

// onPCM receives raw Pulse frames and forwards them to the WAV sink.
func (r *Recording) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}
	return r.sink.Write(buffer)
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
