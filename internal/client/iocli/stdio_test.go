package iocli

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStdio(input string) (*Stdio, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Stdio{
		in:         bufio.NewReader(strings.NewReader(input)),
		out:        out,
		isTerminal: func(fd int) bool { return false },
	}, out
}

func TestStdio_ReadInput(t *testing.T) {
	s, out := newTestStdio("  grower_1  \n")

	got, err := s.ReadInput("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "grower_1", got)
	assert.Equal(t, "Username: ", out.String())
}

func TestStdio_ReadInput_SharedBuffer(t *testing.T) {
	// несколько промптов читают из одного буфера без потери строк
	s, _ := newTestStdio("first\nsecond\n")

	got, err := s.ReadInput("> ")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = s.ReadInput("> ")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestStdio_ReadInput_LastLineWithoutNewline(t *testing.T) {
	s, _ := newTestStdio("secret")

	got, err := s.ReadInput("> ")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}

func TestStdio_ReadPassword_NonTerminalFallback(t *testing.T) {
	s, out := newTestStdio("hunter2\n")

	got, err := s.ReadPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
	assert.Equal(t, "Password: ", out.String())
}

func TestStdio_PrintGoesToWriter(t *testing.T) {
	s, out := newTestStdio("")

	s.Printf("hello %s\n", "grower")
	s.Println("done")

	assert.Equal(t, "hello grower\ndone\n", out.String())
}
