package audio

import (
	"fmt"
	"strconv"
)

type Codec string

const CodecAAC Codec = "aac"

type Container string

const ContainerMP4 Container = "mp4"

// Quality mirrors the usual min..max encoder quality scale
type Quality int

const (
	QualityMin Quality = iota
	QualityLow
	QualityMedium
	QualityHigh
	QualityMax
)

func (q Quality) String() string {
	switch q {
	case QualityMin:
		return "min"
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityMax:
		return "max"
	default:
		return "Quality(" + strconv.Itoa(int(q)) + ")"
	}
}

// Bitrate returns the ffmpeg -b:a value used for a stereo AAC stream at this quality
func (q Quality) Bitrate() string {
	switch q {
	case QualityMin:
		return "64k"
	case QualityLow:
		return "96k"
	case QualityMedium:
		return "128k"
	case QualityMax:
		return "256k"
	default:
		return "192k"
	}
}

// Format describes how the memo file is encoded.
type Format struct {
	Codec      Codec
	Container  Container
	SampleRate int
	Channels   int
	Quality    Quality
}

// MemoFormat is the only encoding the recorder produces: AAC in MPEG-4,
// 44.1 kHz stereo, high quality.
var MemoFormat = Format{
	Codec:      CodecAAC,
	Container:  ContainerMP4,
	SampleRate: 44100,
	Channels:   2,
	Quality:    QualityHigh,
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%s %d Hz %dch %s", f.Codec, f.Container, f.SampleRate, f.Channels, f.Quality)
}

// Validate reports whether the backends know how to produce f
func (f Format) Validate() error {
	if f.Codec != CodecAAC {
		return fmt.Errorf("unsupported codec: %s", f.Codec)
	}
	if f.Container != ContainerMP4 {
		return fmt.Errorf("unsupported container: %s", f.Container)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("unsupported channel count: %d", f.Channels)
	}
	if f.Quality < QualityMin || f.Quality > QualityMax {
		return fmt.Errorf("unsupported quality: %s", f.Quality)
	}
	return nil
}

// EncoderArgs builds the ffmpeg arguments that read raw float32le PCM from
// stdin and write the encoded memo to output.
func (f Format) EncoderArgs(output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "f32le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-i", "pipe:0",
		"-c:a", string(f.Codec),
		"-b:a", f.Quality.Bitrate(),
		"-f", string(f.Container),
		"-y", // Overwrite output
		output,
	}
}
