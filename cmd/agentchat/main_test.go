package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestInitLogging(t *testing.T) {
	require.NoError(t, initLogging(&rootOptions{logLevel: "debug", logFormat: "json"}))
	require.Error(t, initLogging(&rootOptions{logLevel: "loud", logFormat: "json"}))
	require.Error(t, initLogging(&rootOptions{logLevel: "info", logFormat: "xml"}))

	o := &rootOptions{logLevel: "info", logFormat: "console", logFile: filepath.Join(t.TempDir(), "agentchat.log")}
	require.NoError(t, initLogging(o))
	require.NotNil(t, o.logSink)
	require.NoError(t, o.logSink.Close())
}

func TestPrintSnapshot(t *testing.T) {
	payload := []byte(`{"sessionId":"s1","version":4,"connectionStatus":"connected","activeAgent":"Billing Agent",` +
		`"awaitingResponse":false,"messages":[{"id":"a","seq":1,"role":"user","content":"hi"},` +
		`{"id":"b","seq":2,"role":"assistant","content":"You said: hi"}]}`)
	var buf bytes.Buffer
	printSnapshot(&buf, message.NewMessage("m1", payload))
	require.Equal(t, `s1 v4 connected agent="Billing Agent" awaiting=false messages=2 last=assistant:"You said: hi"`+"\n", buf.String())

	buf.Reset()
	printSnapshot(&buf, message.NewMessage("m2", []byte("nope")))
	require.Empty(t, buf.String())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, strings.Repeat("x", 3)+"…", truncate("xxxxx", 3))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, n := range []string{"chat", "forward", "mock-peer", "watch"} {
		require.True(t, names[n], n)
	}
}
