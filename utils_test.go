package kiln

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsGlobMatch(t *testing.T) {
	assert := require.New(t)

	assert.True(IsGlobMatch(`www.example.com`, `www.example.com`))
	assert.True(IsGlobMatch(`WWW.Example.COM`, `www.example.com`))
	assert.True(IsGlobMatch(`api.example.com`, `*.example.com`))
	assert.True(IsGlobMatch(`api.example.com`, `*.EXAMPLE.com`))
	assert.True(IsGlobMatch(`a.b.example.com`, `**.example.com`))
	assert.True(IsGlobMatch(`www.example.org`, `www.example.{com,org}`))
	assert.True(IsGlobMatch(`host7.local`, `host[0-9].local`))
	assert.True(IsGlobMatch(`hostz.local`, `host?.local`))

	assert.False(IsGlobMatch(`a.b.example.com`, `*.example.com`))
	assert.False(IsGlobMatch(`example.com`, `*.example.com`))
	assert.False(IsGlobMatch(`www.example.net`, `www.example.{com,org}`))
	assert.False(IsGlobMatch(`host10.local`, `host[0-9].local`))
	assert.False(IsGlobMatch(`anything`, `[unclosed`))
}
