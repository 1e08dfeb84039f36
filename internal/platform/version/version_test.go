package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "renopulse-server/dev (unknown)", UserAgent("server"))
}
