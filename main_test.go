package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestResolveLogLevel(t *testing.T) {
	assert.Equal(t, zap.InfoLevel, resolveLogLevel(""))
	assert.Equal(t, zap.DebugLevel, resolveLogLevel("debug"))
	assert.Equal(t, zap.WarnLevel, resolveLogLevel("WARN"))
	assert.Equal(t, zap.InfoLevel, resolveLogLevel("loud"))
}
