package log

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter(&buf)
	t.Cleanup(func() {
		defaultLogger = nil
	})
	return &buf
}

func TestLog_WritesFormattedEntry(t *testing.T) {
	buf := setupTestLogger(t)

	Info(CatEngine, "call complete", "attempts", 2, "provider", "mock")

	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "[engine]")
	assert.Contains(t, line, "call complete")
	assert.Contains(t, line, "attempts=2")
	assert.Contains(t, line, "provider=mock")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLog_OddFieldCount(t *testing.T) {
	buf := setupTestLogger(t)

	Debug(CatRegistry, "orphan", "key")

	assert.Contains(t, buf.String(), "key=<missing>")
}

func TestLog_MinLevelFilters(t *testing.T) {
	buf := setupTestLogger(t)
	SetMinLevel(LevelWarn)

	Debug(CatApp, "too quiet")
	Info(CatApp, "still too quiet")
	Warn(CatApp, "loud enough")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "loud enough")
}

func TestLog_DisabledWritesNothing(t *testing.T) {
	buf := setupTestLogger(t)
	SetEnabled(false)

	Error(CatDispatch, "dropped")

	assert.Empty(t, buf.String())
}

func TestErrorErr_AppendsError(t *testing.T) {
	buf := setupTestLogger(t)

	ErrorErr(CatAudit, "insert failed", assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "[ERROR]")
	assert.Contains(t, out, "error="+assert.AnError.Error())
}

func TestErrorErr_NilError(t *testing.T) {
	buf := setupTestLogger(t)

	ErrorErr(CatAudit, "no cause", nil)

	assert.Contains(t, buf.String(), "error=<nil>")
}

func TestSubscribe_ReceivesEntries(t *testing.T) {
	setupTestLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Info(CatPrompt, "plans reloaded", "count", 3)

	select {
	case ev := <-ch:
		assert.Contains(t, ev.Payload, "plans reloaded")
		assert.Contains(t, ev.Payload, "count=3")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log event")
	}
}

func TestSubscribe_NilWhenUninitialized(t *testing.T) {
	defaultLogger = nil
	assert.Nil(t, Subscribe(context.Background()))
}
