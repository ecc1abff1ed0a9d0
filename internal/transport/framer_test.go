package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.NoError(t, WriteMessage(&buf, body))

	r := NewReader(&buf)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestReadMessageMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte(`{"a":1}`)))
	require.NoError(t, WriteMessage(&buf, []byte(`{"b":2}`)))

	r := NewReader(&buf)
	first, err := r.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(first))

	second, err := r.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(second))
}

func TestReadMessageToleratesUnknownHeaders(t *testing.T) {
	raw := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: 11\r\nX-Unknown: 1\r\n\r\n{\"a\":\"bcd\"}"
	r := NewReader(bytes.NewBufferString(raw))
	got, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"a":"bcd"}`, string(got))
}

func TestReadMessageMissingContentLengthIsMalformed(t *testing.T) {
	raw := "X-Header: 1\r\n\r\n"
	r := NewReader(bytes.NewBufferString(raw))
	_, err := r.ReadMessage()
	require.Error(t, err)
	var malformed *ErrMalformedFrame
	assert.ErrorAs(t, err, &malformed)
}

func TestReadMessageNonNumericLengthIsMalformed(t *testing.T) {
	raw := "Content-Length: not-a-number\r\n\r\n"
	r := NewReader(bytes.NewBufferString(raw))
	_, err := r.ReadMessage()
	require.Error(t, err)
	var malformed *ErrMalformedFrame
	assert.ErrorAs(t, err, &malformed)
}

func TestReadMessageCleanEOFBeforeAnyBytes(t *testing.T) {
	r := NewReader(bytes.NewBufferString(""))
	_, err := r.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}
