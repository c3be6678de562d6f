package mp4bot

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestReadableFileSize(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal("500 Bytes", ReadableFileSize(500))
	assert.Equal("1.95 KB", ReadableFileSize(2000))
	assert.Equal("4.77 MB", ReadableFileSize(5_000_000))
	assert.Equal("", ReadableFileSize(SizeUnknown))
}

func TestSavingsPercent(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal("80.00", SavingsPercent(10_000_000, 2_000_000))
	assert.Equal("33.33", SavingsPercent(3_000_000, 2_000_000))
	assert.Equal("0.00", SavingsPercent(100, 100))
	assert.Equal("-50.00", SavingsPercent(100, 150))
}
