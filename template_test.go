package kiln

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetEngineForFile(t *testing.T) {
	assert := require.New(t)

	assert.Equal(HtmlEngine, GetEngineForFile(`status.html`))
	assert.Equal(HtmlEngine, GetEngineForFile(`index.htm`))
	assert.Equal(TextEngine, GetEngineForFile(`access.log`))
	assert.Equal(TextEngine, GetEngineForFile(`noext`))
	assert.Equal(`html`, HtmlEngine.String())
	assert.Equal(`text`, TextEngine.String())
}

func TestTemplateRender(t *testing.T) {
	assert := require.New(t)
	var renderer = NewRenderer()

	// -------------------------------------------------------------------------------------------------------------------
	tmpl, err := renderer.Parse(`line.txt`, `{{ upper .method }} {{ .path }} {{ .missing }}!`)
	assert.NoError(err)
	assert.Equal(TextEngine, tmpl.Engine())
	assert.Equal(`line.txt`, tmpl.Name())

	out, err := tmpl.Bytes(map[string]string{
		`method`: `get`,
		`path`:   `/a<b>`,
	})

	assert.NoError(err)
	assert.Equal(`GET /a<b> !`, string(out))

	// -------------------------------------------------------------------------------------------------------------------
	tmpl, err = renderer.Parse(`page.html`, `<p>{{ .path }}</p>`)
	assert.NoError(err)

	out, err = tmpl.Bytes(map[string]string{
		`path`: `/a<b>`,
	})

	assert.NoError(err)
	assert.Equal(`<p>/a&lt;b&gt;</p>`, string(out))

	// -------------------------------------------------------------------------------------------------------------------
	_, err = renderer.Parse(`broken.txt`, `{{ .path `)
	assert.Error(err)

	tmpl, err = renderer.Parse(`fails.txt`, `{{ .path.nope }}`)
	assert.NoError(err)
	_, err = tmpl.Bytes(map[string]int{`path`: 1})
	assert.Error(err)

	assert.Error(NewTemplate(`empty.txt`, TextEngine).Render(nil, nil))
}

func TestRendererLookup(t *testing.T) {
	assert := require.New(t)
	var renderer = NewRenderer()
	var sysroot = t.TempDir()
	var values = map[string]string{
		`HTTP_STATUS`:      `404`,
		`HTTP_STATUS_TEXT`: `Not Found`,
		`REQUEST_METHOD`:   `GET`,
		`PATH_URL`:         `/missing`,
	}

	// built in
	tmpl, err := renderer.Lookup(``, `status-404.html`, `status-4xx.html`, `status.html`)
	assert.NoError(err)
	assert.Equal(`status.html`, tmpl.Name())

	out, err := tmpl.Bytes(values)
	assert.NoError(err)
	assert.Contains(string(out), `<h1>404 Not Found</h1>`)
	assert.Contains(string(out), `GET /missing`)
	assert.NotContains(string(out), `no value`)

	// any name in the system root wins over the built-in templates
	assert.NoError(os.WriteFile(filepath.Join(sysroot, `status.html`), []byte(`generic {{ .HTTP_STATUS }}`), 0644))

	tmpl, err = renderer.Lookup(sysroot, `status-404.html`, `status-4xx.html`, `status.html`)
	assert.NoError(err)
	out, err = tmpl.Bytes(values)
	assert.NoError(err)
	assert.Equal(`generic 404`, string(out))

	assert.NoError(os.WriteFile(filepath.Join(sysroot, `status-4xx.html`), []byte(`client {{ .HTTP_STATUS }}`), 0644))

	tmpl, err = renderer.Lookup(sysroot, `status-404.html`, `status-4xx.html`, `status.html`)
	assert.NoError(err)
	out, err = tmpl.Bytes(values)
	assert.NoError(err)
	assert.Equal(`client 404`, string(out))

	// the built-in index is still found beside a partial system root
	tmpl, err = renderer.Lookup(sysroot, `index.html`)
	assert.NoError(err)
	assert.Equal(`index.html`, tmpl.Name())

	_, err = renderer.Lookup(sysroot, `nothing.html`)
	assert.Error(err)
}

func TestIndexTemplate(t *testing.T) {
	assert := require.New(t)
	var dir = testListingDir(t)

	index, err := ListDirectory(dir, `/files/`, ``, nil, true)
	assert.NoError(err)

	tmpl, err := NewRenderer().Lookup(``, `index.html`)
	assert.NoError(err)

	out, err := tmpl.Bytes(index)
	assert.NoError(err)

	var page = string(out)

	assert.Contains(page, `<title>Index of /files/</title>`)
	assert.Contains(page, `<a href="/files/">files</a>/`)
	assert.Contains(page, `<a href="zdir/">zdir</a>`)
	assert.Contains(page, `<a href="A.html">A.html</a>`)
	assert.Contains(page, `href="?N"`)
	assert.Contains(page, `href="?d"`)
	assert.NotContains(page, `empty`)

	index, err = ListDirectory(t.TempDir(), `/`, ``, nil, true)
	assert.NoError(err)

	out, err = tmpl.Bytes(index)
	assert.NoError(err)
	assert.Contains(string(out), `empty`)
}
