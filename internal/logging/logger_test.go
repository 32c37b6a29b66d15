package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "nil config uses defaults",
			cfg:     nil,
			wantErr: false,
		},
		{
			name:    "default config",
			cfg:     NewDefaultConfig(),
			wantErr: false,
		},
		{
			name: "json format",
			cfg: &Config{
				Level:  zapcore.DebugLevel,
				Format: "json",
			},
			wantErr: false,
		},
		{
			name: "invalid format",
			cfg: &Config{
				Level:  zapcore.InfoLevel,
				Format: "logfmt",
			},
			wantErr: true,
		},
		{
			name: "negative caller skip",
			cfg: &Config{
				Format: "json",
				Caller: CallerConfig{Enabled: true, Skip: -1},
			},
			wantErr: true,
		},
		{
			name: "empty field value",
			cfg: &Config{
				Format: "json",
				Fields: map[string]string{"component": ""},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.NoError(t, logger.Sync())
		})
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextFields_SessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "abc-123")
	fields := ContextFields(ctx)

	require.Len(t, fields, 1)
	assert.Equal(t, "session.id", fields[0].Key)
	assert.Equal(t, "abc-123", fields[0].String)

	// Empty session id attaches nothing.
	assert.Empty(t, ContextFields(WithSessionID(context.Background(), "")))
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "sess-1")

	tl.Info(ctx, "indexing started", zap.Int("files", 3))
	tl.Warn(ctx, "source skipped")
	tl.Debug(ctx, "offset advanced")
	tl.Trace(ctx, "raw line")

	tl.AssertLogged(t, zapcore.InfoLevel, "indexing started")
	tl.AssertLogged(t, zapcore.WarnLevel, "source skipped")
	tl.AssertLogged(t, zapcore.DebugLevel, "offset advanced")
	tl.AssertLogged(t, TraceLevel, "raw line")

	entries := tl.FilterMessage("indexing started").All()
	require.Len(t, entries, 1)

	var gotSession, gotFiles bool
	for _, f := range entries[0].Context {
		switch f.Key {
		case "session.id":
			gotSession = true
			assert.Equal(t, "sess-1", f.String)
		case "files":
			gotFiles = true
			assert.EqualValues(t, 3, f.Integer)
		}
	}
	assert.True(t, gotSession, "session.id field missing")
	assert.True(t, gotFiles, "files field missing")
}

func TestLogger_NamedAndWith(t *testing.T) {
	tl := NewTestLogger()

	child := tl.Named("indexer").With(zap.String("run_id", "r1"))
	child.Info(context.Background(), "pass complete")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "indexer", entries[0].LoggerName)

	var found bool
	for _, f := range entries[0].Context {
		if f.Key == "run_id" && f.String == "r1" {
			found = true
		}
	}
	assert.True(t, found, "run_id field missing")
}

func TestFromContext(t *testing.T) {
	// Missing logger degrades to nop, never nil.
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "goes nowhere")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "recorded")
	tl.AssertLogged(t, zapcore.InfoLevel, "recorded")
}
