package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogFormatJSON, ParseLogFormat("json"))
	assert.Equal(t, LogFormatPretty, ParseLogFormat("PRETTY"))
	assert.Equal(t, LogFormatUndefined, ParseLogFormat("xml"))
	assert.Equal(t, "undefined", LogFormat(42).String())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{LogLevel: "info", LogFormat: "json", Endpoint: "x", TraceSampleRate: 1}, false},
		{"disabled level", Config{LogLevel: "disabled", LogFormat: "pretty"}, false},
		{"bad level", Config{LogLevel: "loud", LogFormat: "json"}, true},
		{"bad format", Config{LogLevel: "info", LogFormat: "xml"}, true},
		{"enabled without endpoint", Config{Enabled: true, LogLevel: "info", LogFormat: "json"}, true},
		{"enabled bad rate", Config{Enabled: true, Endpoint: "x", LogLevel: "info", LogFormat: "json", TraceSampleRate: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOptionsApplyAndValidate(t *testing.T) {
	t.Parallel()

	opts := newDefaultOptions()
	require.Error(t, opts.validate())

	cfg := Config{Endpoint: "localhost:4317", LogLevel: "debug", LogFormat: "json", TraceSampleRate: 0.5}
	cfg.applyToOptions(&opts)
	opts.apply(Options{ServiceName: "lockstep"})
	require.NoError(t, opts.validate())
	assert.Equal(t, "lockstep", opts.ServiceName)
	assert.InDelta(t, 0.5, opts.TraceSampleRate, 0)
}

func TestComponentLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tel := Telemetry{
		Logger:      newLogger(&buf, Options{ServiceName: "lockstep", LogLevel: "info", LogFormat: LogFormatJSON}),
		serviceName: "lockstep",
	}

	log := tel.GetLogger("sequencer")
	log.Info().Uint64("tick", 7).Msg("tick closed")
	log.Debug().Msg("filtered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "lockstep.sequencer", line["component"])
	assert.Equal(t, "tick closed", line["message"])
	assert.InDelta(t, 7, line["tick"], 0)

	traced := tel.GetLoggerWithTrace(context.Background(), "engine")
	buf.Reset()
	traced.Info().Msg("x")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestNopShutdown(t *testing.T) {
	t.Parallel()

	tel := NewNop("lockstep")
	require.NoError(t, tel.Shutdown(context.Background()))
	tel.CaptureException(context.Background(), assert.AnError)
}
