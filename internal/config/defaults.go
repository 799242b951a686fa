package config

const (
	ReconnectModeReload    = "reload"
	ReconnectModeReconnect = "reconnect"
	ReconnectModeOff       = "off"

	PlaybackBackendPulse   = "pulse"
	PlaybackBackendCommand = "command"

	PlaybackPolicyQueue   = "queue"
	PlaybackPolicyOverlap = "overlap"

	IndicatorBackendHypr    = "hypr"
	IndicatorBackendDesktop = "desktop"

	DefaultDesktopAppName = "voicebridge"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	player := "pw-play {file}"
	clipboard := "wl-copy --trim-newline"

	return Config{
		Server: ServerConfig{
			Origin:         "http://localhost:8000",
			Path:           "/ws",
			DialTimeoutMS:  10000,
			WriteTimeoutMS: 5000,
			HeartbeatMS:    15000,
		},
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			BufferSamples:    4096,
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Reconnect: ReconnectConfig{
			Mode:         ReconnectModeReload,
			DelayMS:      2000,
			MaxRetries:   5,
			BackoffMaxMS: 30000,
		},
		Playback: PlaybackConfig{
			Backend:       PlaybackBackendPulse,
			Policy:        PlaybackPolicyQueue,
			MaxConcurrent: 4,
			Format:        "auto",
			SampleRate:    16000,
			Command:       CommandConfig{Raw: player, Argv: mustParseArgv(player)},
		},
		Indicator: IndicatorConfig{
			Enable:          true,
			Backend:         IndicatorBackendHypr,
			DesktopAppName:  DefaultDesktopAppName,
			SoundEnable:     true,
			ErrorTimeoutMS:  1600,
			NoticeTimeoutMS: 1200,
		},
		Render:    RenderConfig{Color: true, Meter: true},
		Clipboard: ClipboardConfig{Command: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)}},
		Log:       LogConfig{Level: "info"},
	}
}
