package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxFallsBackToGlobal(t *testing.T) {
	l := Ctx(context.Background())
	require.NotNil(t, l)

	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))
	Ctx(ctx).Info().Str(FieldSession, "s1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "s1", entry[FieldSession])
	assert.Equal(t, "hello", entry["message"])
}

func TestGlobalLoggersAreUsableAsValues(t *testing.T) {
	// L 与 Component 返回值类型，调用方先赋值再打日志。
	global := L()
	global.Debug().Msg("global")

	component := Component("test")
	component.Info().Msg("component")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
