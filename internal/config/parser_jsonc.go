package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Server    *jsoncServer    `json:"server"`
	Audio     *jsoncAudio     `json:"audio"`
	Reconnect *jsoncReconnect `json:"reconnect"`
	Playback  *jsoncPlayback  `json:"playback"`
	Indicator *jsoncIndicator `json:"indicator"`
	Render    *jsoncRender    `json:"render"`
	Clipboard *jsoncClipboard `json:"clipboard"`
	Log       *jsoncLog       `json:"log"`
}

type jsoncServer struct {
	Origin         *string `json:"origin"`
	Path           *string `json:"path"`
	DialTimeoutMS  *int    `json:"dial_timeout_ms"`
	WriteTimeoutMS *int    `json:"write_timeout_ms"`
	HeartbeatMS    *int    `json:"heartbeat_ms"`
}

type jsoncAudio struct {
	Input            *string `json:"input"`
	Fallback         *string `json:"fallback"`
	BufferSamples    *int    `json:"buffer_samples"`
	EchoCancellation *bool   `json:"echo_cancellation"`
	NoiseSuppression *bool   `json:"noise_suppression"`
}

type jsoncReconnect struct {
	Mode         *string `json:"mode"`
	DelayMS      *int    `json:"delay_ms"`
	MaxRetries   *int    `json:"max_retries"`
	BackoffMaxMS *int    `json:"backoff_max_ms"`
	PreserveLog  *bool   `json:"preserve_log"`
}

type jsoncPlayback struct {
	Backend       *string `json:"backend"`
	Policy        *string `json:"policy"`
	MaxConcurrent *int    `json:"max_concurrent"`
	Format        *string `json:"format"`
	SampleRate    *int    `json:"sample_rate"`
	Command       *string `json:"command"`
}

type jsoncIndicator struct {
	Enable          *bool   `json:"enable"`
	Backend         *string `json:"backend"`
	DesktopAppName  *string `json:"desktop_app_name"`
	SoundEnable     *bool   `json:"sound_enable"`
	ErrorTimeoutMS  *int    `json:"error_timeout_ms"`
	NoticeTimeoutMS *int    `json:"notice_timeout_ms"`
}

type jsoncRender struct {
	Color *bool `json:"color"`
	Meter *bool `json:"meter"`
}

type jsoncClipboard struct {
	Command *string `json:"command"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setLower(dst *string, src *string) {
	if src != nil {
		*dst = strings.ToLower(strings.TrimSpace(*src))
	}
}

func set[T int | bool](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setCommand(dst *CommandConfig, field string, src *string) error {
	if src == nil {
		return nil
	}
	argv, err := parseArgv(*src)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = CommandConfig{Raw: *src, Argv: argv}
	return nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if s := payload.Server; s != nil {
		setString(&cfg.Server.Origin, s.Origin)
		setString(&cfg.Server.Path, s.Path)
		set(&cfg.Server.DialTimeoutMS, s.DialTimeoutMS)
		set(&cfg.Server.WriteTimeoutMS, s.WriteTimeoutMS)
		set(&cfg.Server.HeartbeatMS, s.HeartbeatMS)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		set(&cfg.Audio.BufferSamples, a.BufferSamples)
		set(&cfg.Audio.EchoCancellation, a.EchoCancellation)
		set(&cfg.Audio.NoiseSuppression, a.NoiseSuppression)
	}

	if r := payload.Reconnect; r != nil {
		setLower(&cfg.Reconnect.Mode, r.Mode)
		set(&cfg.Reconnect.DelayMS, r.DelayMS)
		set(&cfg.Reconnect.MaxRetries, r.MaxRetries)
		set(&cfg.Reconnect.BackoffMaxMS, r.BackoffMaxMS)
		set(&cfg.Reconnect.PreserveLog, r.PreserveLog)
	}

	if p := payload.Playback; p != nil {
		setLower(&cfg.Playback.Backend, p.Backend)
		setLower(&cfg.Playback.Policy, p.Policy)
		set(&cfg.Playback.MaxConcurrent, p.MaxConcurrent)
		setLower(&cfg.Playback.Format, p.Format)
		set(&cfg.Playback.SampleRate, p.SampleRate)
		if err := setCommand(&cfg.Playback.Command, "playback.command", p.Command); err != nil {
			return err
		}
	}

	if i := payload.Indicator; i != nil {
		set(&cfg.Indicator.Enable, i.Enable)
		setLower(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		set(&cfg.Indicator.SoundEnable, i.SoundEnable)
		set(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
		set(&cfg.Indicator.NoticeTimeoutMS, i.NoticeTimeoutMS)
	}

	if r := payload.Render; r != nil {
		set(&cfg.Render.Color, r.Color)
		set(&cfg.Render.Meter, r.Meter)
	}

	if c := payload.Clipboard; c != nil {
		if err := setCommand(&cfg.Clipboard.Command, "clipboard.command", c.Command); err != nil {
			return err
		}
	}

	if l := payload.Log; l != nil {
		setLower(&cfg.Log.Level, l.Level)
	}

	return nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
