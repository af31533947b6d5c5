package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLText(t *testing.T) {
	page := `<html><head><title>ignored</title><style>p { color: red }</style></head>
<body>
  <nav>Home | About</nav>
  <h1>Release   notes</h1>
  <p>The retrieval actor now
     caches query embeddings.</p>
  <ul><li>First item</li><li>Second <b>bold</b> item</li></ul>
  <script>console.log("nope")</script>
</body></html>`

	text, err := HTMLText(page)
	require.NoError(t, err)
	assert.Equal(t, "Release notes\nThe retrieval actor now caches query embeddings.\nFirst item\nSecond bold item", text)
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	md := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(md, []byte("# Title\n<p>kept verbatim</p>"), 0644))
	page := filepath.Join(dir, "b.HTML")
	require.NoError(t, os.WriteFile(page, []byte("<p>Only this paragraph.</p>"), 0644))

	text, err := LoadDocument(md)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n<p>kept verbatim</p>", text)

	text, err = LoadDocument(page)
	require.NoError(t, err)
	assert.Equal(t, "Only this paragraph.", text)

	_, err = LoadDocument(filepath.Join(dir, "missing.txt"))
	assert.True(t, os.IsNotExist(err))
}
