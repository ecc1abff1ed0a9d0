package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrefixesEveryLine(t *testing.T) {
	var buf bytes.Buffer
	l := New("manager")
	l.SetOutput(&buf)
	l.SetFlags(0)

	l.Printf("spawned %s", "python")
	assert.Equal(t, "[manager] spawned python\n", buf.String())
}

func TestForLanguageUsesLanguageAsPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := ForLanguage("rust")
	l.SetOutput(&buf)
	l.SetFlags(0)

	l.Printf("server closed connection")
	assert.True(t, strings.HasPrefix(buf.String(), "[rust] "))
}

func TestCoreIsASingleSharedLogger(t *testing.T) {
	assert.Same(t, Core(), Core())
}
