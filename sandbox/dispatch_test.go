package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveLimits(t *testing.T) {
	t.Run("CallTimeoutOverrides", func(t *testing.T) {
		limits := effectiveLimits(DefaultLimits(), ExecutionContext{Timeout: 250 * time.Millisecond})
		assert.Equal(t, 250*time.Millisecond, limits.ExecutionTime)
	})

	t.Run("ZeroFallsBackToDefault", func(t *testing.T) {
		limits := effectiveLimits(ResourceLimits{}, ExecutionContext{})
		assert.Equal(t, DefaultTimeout, limits.ExecutionTime)
	})

	t.Run("UnlimitedSentinelSurvives", func(t *testing.T) {
		limits := effectiveLimits(ResourceLimits{ExecutionTime: time.Duration(Unlimited)}, ExecutionContext{})
		assert.Negative(t, limits.ExecutionTime)
	})
}

func TestBackstop(t *testing.T) {
	limits := ResourceLimits{ExecutionTime: 200 * time.Millisecond}
	assert.Equal(t, 240*time.Millisecond, backstop(limits, 20*time.Millisecond))

	// A disabled ceiling still bounds the dispatch select.
	limits.ExecutionTime = time.Duration(Unlimited)
	assert.Equal(t, maxBackstop, backstop(limits, 20*time.Millisecond))
}
