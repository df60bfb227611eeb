package schemaio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moduforge/moduforge/internal/schema"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBasicDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.yaml", `
top_node: doc
nodes:
  - name: doc
    content: "paragraph+"
  - name: paragraph
    content: "text*"
    attrs:
      align:
        default: "left"
      order:
        default: 1
marks:
  - name: strong
`)
	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "doc", spec.TopNode)
	require.Len(t, spec.Nodes, 2)
	require.Len(t, spec.Marks, 1)

	para := findNode(spec.Nodes, "paragraph")
	require.NotNil(t, para)
	require.Equal(t, "left", para.Attrs["align"].Default)
	require.Equal(t, float64(1), para.Attrs["order"].Default)
	require.True(t, para.Attrs["order"].HasDefault)
}

func TestLoadImportMergesAndErrorsOnDuplicateSymbol(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
top_node: doc
nodes:
  - name: doc
    content: "paragraph+"
  - name: paragraph
    content: "text*"
marks:
  - name: strong
`)
	writeFile(t, dir, "also_paragraph.yaml", `
nodes:
  - name: paragraph
    content: "text*"
`)

	main := writeFile(t, dir, "main.yaml", `
import:
  - base.yaml
  - also_paragraph.yaml
`)
	_, err := Load(main)
	require.Error(t, err)
}

func TestLoadIncludeLaterWinsOverImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
top_node: doc
nodes:
  - name: doc
    content: "paragraph+"
  - name: paragraph
    content: "text*"
    attrs:
      align:
        default: "left"
marks:
  - name: strong
`)
	writeFile(t, dir, "extra.yaml", `
nodes:
  - name: paragraph
    content: "text*"
    attrs:
      align:
        default: "center"
marks:
  - name: em
`)
	main := writeFile(t, dir, "main.yaml", `
import:
  - base.yaml
include:
  - extra.yaml
`)
	spec, err := Load(main)
	require.NoError(t, err)
	require.Equal(t, "doc", spec.TopNode)
	require.Len(t, spec.Nodes, 2)
	require.Len(t, spec.Marks, 2)

	para := findNode(spec.Nodes, "paragraph")
	require.NotNil(t, para)
	require.Equal(t, "center", para.Attrs["align"].Default)
}

func TestLoadOwnDeclarationOverridesInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
top_node: doc
nodes:
  - name: doc
    content: "paragraph+"
  - name: paragraph
    content: "text*"
`)
	main := writeFile(t, dir, "main.yaml", `
include:
  - base.yaml
nodes:
  - name: paragraph
    content: "text*"
    open: true
`)
	spec, err := Load(main)
	require.NoError(t, err)
	para := findNode(spec.Nodes, "paragraph")
	require.NotNil(t, para)
	require.True(t, para.Open)
}

func TestLoadAttrDefaultDecodesNestedMap(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.yaml", `
top_node: doc
nodes:
  - name: doc
    content: ""
    attrs:
      meta:
        default:
          count: 3
          label: "x"
`)
	spec, err := Load(path)
	require.NoError(t, err)
	doc := findNode(spec.Nodes, "doc")
	require.NotNil(t, doc)
	m, ok := doc.Attrs["meta"].Default.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(3), m["count"])
	require.Equal(t, "x", m["label"])
}

func TestLoadRejectsImportCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
import:
  - b.yaml
`)
	b := writeFile(t, dir, "b.yaml", `
import:
  - a.yaml
`)
	_, err := Load(b)
	require.Error(t, err)
}

func TestLoadStringParsesInlineSchema(t *testing.T) {
	spec, err := LoadString([]byte(`
top_node: doc
nodes:
  - name: doc
    content: "paragraph+"
  - name: paragraph
    content: "text*"
`))
	require.NoError(t, err)
	require.Equal(t, "doc", spec.TopNode)
	require.Len(t, spec.Nodes, 2)
}

func TestLoadStringRejectsImport(t *testing.T) {
	_, err := LoadString([]byte(`
import:
  - base.yaml
`))
	require.Error(t, err)
}

func TestLintFlagsUndeclaredTopNode(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.yaml", `
top_node: missing
nodes:
  - name: doc
    content: ""
`)
	issues, err := Lint(path)
	require.NoError(t, err)
	require.NotEmpty(t, issues)
}

func TestLintCleanDocumentHasNoIssues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.yaml", `
top_node: doc
nodes:
  - name: doc
    content: ""
marks:
  - name: strong
    excludes:
      - em
  - name: em
`)
	issues, err := Lint(path)
	require.NoError(t, err)
	require.Empty(t, issues)
}

func TestMetaSchemaIsUsableSpec(t *testing.T) {
	meta := MetaSchema()
	require.Equal(t, "schema_file", meta.TopNode)
	require.NotEmpty(t, meta.Nodes)
}

func findNode(nodes []schema.NodeSpec, name string) *schema.NodeSpec {
	for i := range nodes {
		if nodes[i].Name == name {
			return &nodes[i]
		}
	}
	return nil
}
