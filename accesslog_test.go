package kiln

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAccessLog(t *testing.T) {
	assert := require.New(t)

	format, file, enabled := ParseAccessLog(`OFF`)
	assert.False(enabled)
	assert.Empty(format)
	assert.Empty(file)

	for _, option := range []string{``, `on`, ` On `} {
		format, file, enabled = ParseAccessLog(option)
		assert.True(enabled)
		assert.Equal(DefaultAccessLogFormat, format)
		assert.Empty(file)
	}

	format, file, enabled = ParseAccessLog(`{{.REMOTE_HOST}} {{.REQUEST}} > logs/access.log`)
	assert.True(enabled)
	assert.Equal(`{{.REMOTE_HOST}} {{.REQUEST}}`, format)
	assert.Equal(`logs/access.log`, file)

	format, file, _ = ParseAccessLog(`> /var/log/kiln.log`)
	assert.Equal(DefaultAccessLogFormat, format)
	assert.Equal(`/var/log/kiln.log`, file)

	// a ">" inside the placeholders is part of the format
	format, file, _ = ParseAccessLog(`{{ if gt (len .REQUEST) 0 }}{{.REQUEST}}{{ end }}`)
	assert.Equal(`{{ if gt (len .REQUEST) 0 }}{{.REQUEST}}{{ end }}`, format)
	assert.Empty(file)
}

func TestAccessLogValues(t *testing.T) {
	assert := require.New(t)
	var at = time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone(`X`, 3600))
	var req = &Request{
		Environment: SectionFromMap(map[string]string{
			`remote_host`: `10.0.0.1`,
			`remote_user`: ` `,
			`request`:     "GET /\"quoted\"\r\n HTTP/1.0",
		}),
	}

	var values = AccessLogValues(req, at)

	assert.Equal(`10.0.0.1`, values[`REMOTE_HOST`])
	assert.Equal(`-`, values[`REMOTE_USER`])
	assert.Equal(`GET /\"quoted\"\r\n HTTP/1.0`, values[`REQUEST`])
	assert.Equal(`04/Mar/2024:05:06:07 +0100`, values[`TIME`])

	tmpl, err := NewRenderer().Parse(`accesslog`, DefaultAccessLogFormat)
	assert.NoError(err)

	line, err := tmpl.Bytes(values)
	assert.NoError(err)
	assert.Equal(`10.0.0.1 - - [04/Mar/2024:05:06:07 +0100] "GET /\"quoted\"\r\n HTTP/1.0"  `, string(line))
}
