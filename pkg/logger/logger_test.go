package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	l := New(Config{Level: "not-a-level", Format: "json"})
	require.NotNil(t, l)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestNewTextFormat(t *testing.T) {
	l := New(Config{Level: "debug", Format: "text"})
	require.NotNil(t, l)
	_, ok := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestNewDefault(t *testing.T) {
	l := NewDefault("registry")
	require.NotNil(t, l)
}
