package bot

import (
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func TestParseRateLimit(t *testing.T) {
	assert := assert_.New(t)

	wait, ok := ParseRateLimit("you are doing that too much. try again in 7 minutes.")
	assert.True(ok)
	assert.Equal(7*time.Minute, wait)

	wait, ok = ParseRateLimit("Try again in 1 minute.")
	assert.True(ok)
	assert.Equal(time.Minute, wait)

	wait, ok = ParseRateLimit("try again in 30 seconds")
	assert.True(ok)
	assert.Equal(30*time.Second, wait)

	_, ok = ParseRateLimit("something else went wrong")
	assert.False(ok)
}

func TestParseBanDuration(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal(7*24*time.Hour, ParseBanDuration("you have been banned for 7 days"))
	assert.Equal(24*time.Hour, ParseBanDuration("banned for 1 day."))
	assert.Equal(time.Duration(0), ParseBanDuration("you have been permanently banned"))
}
