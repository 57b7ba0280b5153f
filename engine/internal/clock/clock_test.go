package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClockAdvances(t *testing.T) {
	c := Real()
	start := c.Now()
	c.Sleep(time.Millisecond)
	assert.True(t, c.Now().After(start) || c.Now().Equal(start))
}

func TestRealClockAfterFires(t *testing.T) {
	c := Real()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After channel never fired")
	}
}
