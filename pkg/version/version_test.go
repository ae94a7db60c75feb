package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, "v0.0.0-dev", info.GitVersion)
	assert.NotEmpty(t, info.GoVersion)
	assert.True(t, strings.Contains(info.Platform, "/"), "platform should be os/arch")
}

func TestStringIsGitVersion(t *testing.T) {
	info := Get()
	assert.Equal(t, info.GitVersion, info.String())
}
