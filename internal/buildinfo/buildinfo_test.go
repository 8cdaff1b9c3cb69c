package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortPrefersVersion(t *testing.T) {
	v, c := Version, Commit
	t.Cleanup(func() { Version, Commit = v, c })

	Version, Commit = "dev", "unknown"
	assert.Equal(t, "dev", Short())

	Commit = "abc1234"
	assert.Equal(t, "abc1234", Short())

	Version = "1.0.0"
	assert.Equal(t, "1.0.0", Short())
	assert.Contains(t, String(), "1.0.0 (commit abc1234")
}
