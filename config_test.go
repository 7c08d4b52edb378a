package kiln

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var testSettingsYAML = `
server:web:bas:
  type: http

server:web:ini:
  address: 127.0.0.1
  port: 8080
  index: on
  identity: off
  methods: get head

server:web:ref:
  - /docs > /srv/docs
  - /private [acc:admins]

server:secure:ini extends server:web:ini:
  port: 8443

server:secure:ref extends server:web:ref:
  - /admin [C]

server:secure:bas:
  type: http

virtual:example.com:ini:
  docroot: "0x2f7372762f6578616d706c65"

mediatypes:
  text/x-custom: cst
`

func TestParseSettings(t *testing.T) {
	assert := require.New(t)

	settings, err := ParseSettings([]byte(testSettingsYAML))
	assert.NoError(err)

	var web = settings.Get(`server:web:ini`)

	assert.Equal(`127.0.0.1`, web.Get(`address`))
	assert.Equal(`8080`, web.Get(`port`))
	assert.Equal(`on`, web.Get(`index`))
	assert.Equal(`off`, web.Get(`identity`))

	var secure = settings.Get(`server:secure:ini`)

	assert.Equal(`8443`, secure.Get(`port`))
	assert.Equal(`get head`, secure.Get(`methods`))

	assert.Equal([]string{
		`/docs > /srv/docs`,
		`/private [acc:admins]`,
	}, settings.Get(`server:web:ref`).Values())

	assert.Equal([]string{
		`/docs > /srv/docs`,
		`/private [acc:admins]`,
		`/admin [C]`,
	}, settings.Get(`server:secure:ref`).Values())

	assert.Equal(`/srv/example`, settings.Get(`virtual:example.com:ini`).Get(`docroot`))
	assert.Equal([]string{`web`, `secure`}, settings.ServerNames())
}

func TestSettingsGetReturnsCopies(t *testing.T) {
	assert := require.New(t)

	settings, err := ParseSettings([]byte(testSettingsYAML))
	assert.NoError(err)

	settings.Get(`server:web:ini`).Set(`port`, `1`)
	assert.Equal(`8080`, settings.Get(`server:web:ini`).Get(`port`))

	assert.False(settings.Contains(`server:nope:ini`))
	assert.Zero(settings.Get(`server:nope:ini`).Len())
}

func TestParseSettingsCycle(t *testing.T) {
	assert := require.New(t)

	_, err := ParseSettings([]byte("a extends b:\n  x: 1\nb extends a:\n  y: 2\n"))
	assert.Error(err)
	assert.True(errors.Is(err, ErrSectionCycle))

	_, err = ParseSettings([]byte("a:\n  x: 1\nb wat a:\n  y: 2\n"))
	assert.Error(err)
}

func TestDefaultSettings(t *testing.T) {
	assert := require.New(t)
	var settings = DefaultSettings()

	assert.Equal(`Document Not Found`, settings.Get(`statuscodes`).Get(`404`))
	assert.True(hasOption(settings.Get(`statuscodes`).Get(`304`), `H`))

	var types = settings.MediaTypes()

	assert.Equal(`text/html`, types[`html`])
	assert.Equal(`text/plain`, types[`txt`])
}

func TestLoadSettingsMergesDefaults(t *testing.T) {
	assert := require.New(t)
	var filename = filepath.Join(t.TempDir(), `kiln.yml`)

	assert.NoError(os.WriteFile(filename, []byte(testSettingsYAML), 0644))

	settings, err := LoadSettings(filename)
	assert.NoError(err)

	var types = settings.MediaTypes()

	assert.Equal(`text/x-custom`, types[`cst`])
	assert.Equal(`text/html`, types[`htm`])

	_, err = LoadSettings(filepath.Join(t.TempDir(), `missing.yml`))
	assert.Error(err)
}
