// Package audio stores uploaded audio on disk and checks that it is in a
// format the engines can decode.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Format is a supported audio container, named by its MIME type.
type Format string

// Supported formats.
const (
	FormatWAV Format = "audio/wav"
	FormatMP3 Format = "audio/mpeg"
	FormatOGG Format = "audio/ogg"
	FormatM4A Format = "audio/mp4"
)

var (
	// ErrUnsupportedFormat is returned for audio that is not WAV, MP3, OGG or M4A.
	ErrUnsupportedFormat = errors.New("audio format not supported; supported formats: WAV, MP3, OGG, M4A")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file size exceeds maximum limit")

	// ErrEmptyFile is returned for zero-length uploads.
	ErrEmptyFile = errors.New("audio file is empty")
)

var extensionFormats = map[string]Format{
	".wav": FormatWAV,
	".mp3": FormatMP3,
	".ogg": FormatOGG,
	".m4a": FormatM4A,
}

// contentTypes lists the upload Content-Type values that are accepted.
var contentTypes = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/wave":  true,
	"audio/mpeg":  true,
	"audio/ogg":   true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
}

// SupportedContentType reports whether an upload's Content-Type header names
// a supported audio type. Parameters such as codecs are ignored.
func SupportedContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return contentTypes[strings.ToLower(mt)]
}

// Info describes a validated audio file. Sample rate, channels and duration
// are only known for WAV files.
type Info struct {
	Format     Format        `json:"format"`
	Size       int64         `json:"size"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Processor saves uploads to a scratch directory and validates them.
type Processor struct {
	dir    string
	logger *slog.Logger
}

// NewProcessor returns a processor that writes uploads under dir.
// An empty dir means the OS temp directory.
func NewProcessor(dir string, logger *slog.Logger) *Processor {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Processor{
		dir:    dir,
		logger: logger.With("component", "audio"),
	}
}

// Save copies r to a new file in the processor's directory, keeping the
// extension of filename. It returns ErrFileTooLarge, without leaving a file
// behind, when more than maxBytes are read.
func (p *Processor) Save(r io.Reader, filename string, maxBytes int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	f, err := os.CreateTemp(p.dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	path := f.Name()

	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		p.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if n > maxBytes {
		p.Remove(path)
		return "", ErrFileTooLarge
	}
	if n == 0 {
		p.Remove(path)
		return "", ErrEmptyFile
	}

	p.logger.Debug("upload saved", "path", path, "bytes", n)
	return path, nil
}

// Validate checks that path holds supported audio and returns what is known
// about it. WAV files must also have a well-formed header.
func (p *Processor) Validate(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat audio: %w", err)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return Info{}, err
	}

	info := Info{Format: format, Size: st.Size()}
	if format != FormatWAV {
		return info, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%w: malformed WAV header", ErrUnsupportedFormat)
	}
	info.SampleRate = int(dec.SampleRate)
	info.Channels = int(dec.NumChans)
	if d, err := dec.Duration(); err == nil {
		info.Duration = d
	}
	return info, nil
}

// Remove deletes a file written by Save. Missing files are ignored.
func (p *Processor) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove audio file", "path", path, "error", err)
	}
}

// DetectFormat identifies the audio container from its signature and file
// extension. When both are known and disagree, the extension wins, since
// some encoders write unusual headers.
func DetectFormat(path string) (Format, error) {
	byExt := extensionFormats[strings.ToLower(filepath.Ext(path))]

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, _ := io.ReadFull(f, header)
	byMagic := detectMagic(header[:n])

	switch {
	case byExt != "":
		return byExt, nil
	case byMagic != "":
		return byMagic, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// detectMagic matches the leading bytes of a file against known signatures.
func detectMagic(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, []byte("RIFF")) && bytes.Contains(header, []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && (header[1] == 0xFB || header[1] == 0xF3 || header[1] == 0xF2):
		return FormatMP3
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatOGG
	case len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")):
		return FormatM4A
	default:
		return ""
	}
}
