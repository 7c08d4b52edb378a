package kiln

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	assert := require.New(t)

	for in, out := range map[string]string{
		``:                ``,
		`/`:               `/`,
		`/a/./b/../c`:     `/a/c`,
		`/a/../../b`:      `/b`,
		`/../../..`:       `/`,
		`//a///b`:         `/a/b`,
		`/a/b/`:           `/a/b/`,
		`/a/b/.`:          `/a/b/`,
		`/a/b/..`:         `/a/`,
		`\a\b`:            `/a/b`,
		`relative/../x`:   `x`,
		`/a/./b/./c/./`:   `/a/b/c/`,
		`/a/b/../../../c`: `/c`,
	} {
		assert.Equal(out, NormalizePath(in), "input %q", in)
	}
}

func TestNormalizePathIsIdempotent(t *testing.T) {
	assert := require.New(t)

	for _, in := range []string{
		`/a/./b/../c`,
		`/a/../../b`,
		`//x//y/`,
		`/a/b/..`,
		`/.`,
		`/..`,
		`/a/%2e%2e/b`,
		`/très/bien/../mal`,
	} {
		var once = NormalizePath(in)
		assert.Equal(once, NormalizePath(once), "input %q", in)
	}
}

func TestDecodeText(t *testing.T) {
	assert := require.New(t)

	assert.Equal(`/a b`, DecodeText(`/a%20b`))
	assert.Equal(`/a b`, DecodeText(`/a+b`))
	assert.Equal(`/über`, DecodeText(`/%C3%BCber`))
	assert.Equal(`/ü`, DecodeText(`/%FC`))
	assert.Equal(`/100%`, DecodeText(`/100%`))
	assert.Equal(`/%zz`, DecodeText(`/%zz`))
	assert.Equal(`/a/../b`, DecodeText(`/a/%2e%2e/b`))
}

func TestCleanOptions(t *testing.T) {
	assert := require.New(t)

	assert.Equal(`/srv/docs`, CleanOptions(`/srv/docs [A] [acc:admins]`))
	assert.Equal(`echo`, CleanOptions(`echo [M]`))
	assert.Equal(``, CleanOptions(`[C]`))
	assert.Equal(`on`, CleanOptions(`on [S]`))

	assert.True(hasOption(`echo [m]`, `M`))
	assert.True(hasOption(`/x [R]`, `r`))
	assert.False(hasOption(`/x [acc:r]`, `R`))
}
