package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestString_FallsBackToDefault(t *testing.T) {
	t.Setenv("ERGO_TEST_STRING", "")
	assert.Equal(t, "fallback", String("ERGO_TEST_STRING", "fallback"))

	t.Setenv("ERGO_TEST_STRING", "value")
	assert.Equal(t, "value", String("ERGO_TEST_STRING", "fallback"))
}

func TestInt_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ERGO_TEST_INT", "42")
	assert.Equal(t, 42, Int("ERGO_TEST_INT", 7))

	t.Setenv("ERGO_TEST_INT", "not-a-number")
	assert.Equal(t, 7, Int("ERGO_TEST_INT", 7))
}

func TestBool_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ERGO_TEST_BOOL", "true")
	assert.True(t, Bool("ERGO_TEST_BOOL", false))

	t.Setenv("ERGO_TEST_BOOL", "nope")
	assert.False(t, Bool("ERGO_TEST_BOOL", false))
}

func TestFloat_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ERGO_TEST_FLOAT", "0.25")
	assert.Equal(t, 0.25, Float("ERGO_TEST_FLOAT", 1.0))

	t.Setenv("ERGO_TEST_FLOAT", "not-a-float")
	assert.Equal(t, 1.0, Float("ERGO_TEST_FLOAT", 1.0))
}

func TestDuration_ParsesOrFallsBack(t *testing.T) {
	t.Setenv("ERGO_TEST_DURATION", "5s")
	assert.Equal(t, 5*time.Second, Duration("ERGO_TEST_DURATION", time.Minute))

	t.Setenv("ERGO_TEST_DURATION", "bogus")
	assert.Equal(t, time.Minute, Duration("ERGO_TEST_DURATION", time.Minute))
}
