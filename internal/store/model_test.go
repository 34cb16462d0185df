package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("b", "a"), PairKey("a", "b"))
	assert.Equal(t, "a:b", PairKey("b", "a", "b"))
}

func TestStatusTransitionsAreMonotone(t *testing.T) {
	assert.True(t, StatusSent.CanAdvanceTo(StatusDelivered))
	assert.True(t, StatusSent.CanAdvanceTo(StatusRead))
	assert.True(t, StatusDelivered.CanAdvanceTo(StatusRead))
	assert.False(t, StatusRead.CanAdvanceTo(StatusDelivered))
	assert.False(t, StatusDelivered.CanAdvanceTo(StatusSent))
	assert.False(t, StatusRead.CanAdvanceTo(StatusRead))
}

func TestOtpLive(t *testing.T) {
	now := time.Now()
	o := Otp{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, o.Live(now))
	assert.False(t, o.Live(now.Add(2*time.Minute)))
	o.IsUsed = true
	assert.False(t, o.Live(now))
}
