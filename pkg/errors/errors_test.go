package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("workers", "must be positive", io.EOF)
	assert.Equal(t, "config error: workers: must be positive", err.Error())
	assert.ErrorIs(t, err, io.EOF)

	var cfgErr *ConfigError
	require.True(t, stderrors.As(err, &cfgErr))
	assert.Equal(t, "workers", cfgErr.Field)
}

func TestTransportError(t *testing.T) {
	err := NewTransportError("queue receive", io.ErrUnexpectedEOF)
	assert.Equal(t, "queue receive: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRevocationError(t *testing.T) {
	err := NewRevocationError("0A", io.EOF)
	assert.Contains(t, err.Error(), "serial 0A")
	assert.ErrorIs(t, err, io.EOF)
}

func TestNilReceivers(t *testing.T) {
	var c *ConfigError
	assert.Equal(t, "", c.Error())
	assert.Nil(t, c.Unwrap())
}
