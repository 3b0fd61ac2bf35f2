package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsJobID(a))
	assert.False(t, IsJobID("../etc"))
}

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", BytesMD5([]byte("abc")))
}

func TestComponent(t *testing.T) {
	assert.NotNil(t, Component("test"))
	assert.NoError(t, InitLogger("release"))
	Component("test").Info("logger ready")
}
