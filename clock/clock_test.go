package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	f.Advance(5 * time.Minute)
	assert.Equal(t, start.Add(5*time.Minute), f.Now())

	f.Set(start)
	assert.Equal(t, start, f.Now())
}

func TestSystemUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("UTC")
	assert.NoError(t, err)
	c := NewSystem(loc)
	assert.Equal(t, loc, c.Now().Location())
}

func TestSystemDefaultsToLocal(t *testing.T) {
	c := NewSystem(nil)
	assert.Equal(t, time.Local, c.Now().Location())
}
