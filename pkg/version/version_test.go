package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortTruncatesFullRevisions(t *testing.T) {
	assert.Equal(t, "a3f8c2d1", short("a3f8c2d1e5b7f9a0c4d6e8b2a1f3c5d7e9b1a3f5"))
	assert.Equal(t, "a3f8", short("a3f8"))
	assert.Equal(t, "dev", short("dev"))
}

func TestFullCombinesAppNameAndCommit(t *testing.T) {
	assert.Equal(t, AppName+"/"+GitCommit, Full())
	assert.NotEmpty(t, GitCommit, "test binaries must still report an identity")
}
