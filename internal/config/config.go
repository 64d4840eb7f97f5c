// Package config provides the configuration schema and loader for the
// wavecast capture service.
package config

// LogLevel controls log verbosity for the wavecast process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SinkKind selects the terminal stage of the pipeline.
type SinkKind string

const (
	// SinkWAV writes raw PCM into a RIFF/WAVE container file.
	SinkWAV SinkKind = "wav"

	// SinkOgg writes Opus-encoded audio into an Ogg container file.
	SinkOgg SinkKind = "ogg"

	// SinkRTP transmits Opus-encoded audio as RTP over UDP.
	SinkRTP SinkKind = "rtp"
)

// IsValid reports whether k is a recognised sink kind.
func (k SinkKind) IsValid() bool {
	switch k {
	case SinkWAV, SinkOgg, SinkRTP:
		return true
	}
	return false
}

// Config is the root configuration structure for wavecast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Sink    SinkConfig    `yaml:"sink"`
	Capture CaptureConfig `yaml:"capture"`
}

// ServerConfig holds logging and metrics settings for the wavecast process.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint listens
	// on (e.g., ":9091"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// SessionConfig holds the per-session audio parameters. The sample format is
// fixed: interleaved signed 16-bit little-endian PCM.
type SessionConfig struct {
	// SampleRate in Hz of the captured PCM (e.g., 48000).
	SampleRate int `yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `yaml:"channels"`

	// BitrateBps is the Opus encoder target bitrate in bits per second
	// (e.g., 128000). Ignored by the wav sink, which stores raw PCM.
	BitrateBps int `yaml:"bitrate_bps"`
}

// SinkConfig selects and parameterises the pipeline's terminal stage.
type SinkConfig struct {
	// Kind selects the sink implementation.
	Kind SinkKind `yaml:"kind"`

	// Channels overrides the output channel count, e.g. 1 to downmix a
	// stereo capture. 0 keeps the capture channel count.
	Channels int `yaml:"channels"`

	// Path is the output file path for the wav and ogg sinks.
	Path string `yaml:"path"`

	// Host is the destination for the rtp sink.
	Host string `yaml:"host"`

	// Port is the destination UDP port for the rtp sink. 0 selects the
	// well-known RTP port 5004.
	Port int `yaml:"port"`
}

// CaptureConfig holds settings for the capture loop feeding the pipeline.
type CaptureConfig struct {
	// BufferBytes is the size of each PCM read from the source. 0 selects a
	// default of 100 ms of audio.
	BufferBytes int `yaml:"buffer_bytes"`

	// TeePath, when set, mirrors the raw captured PCM into a WAV file
	// alongside whatever the pipeline sink produces.
	TeePath string `yaml:"tee_path"`
}
