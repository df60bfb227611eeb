package schemaio

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/moduforge/moduforge/internal/schema"
)

//go:embed meta_schema.yaml
var metaSchemaYAML []byte

// metaSchema is parsed once from the embedded YAML: editor tooling that
// wants the shape of a schema file (not a ModuForge document) can call
// MetaSchema() rather than re-embedding the YAML.
var metaSchema = func() *schema.Spec {
	var doc fileDoc
	if err := yaml.Unmarshal(metaSchemaYAML, &doc); err != nil {
		panic("schemaio: embedded meta schema is malformed: " + err.Error())
	}
	spec := &schema.Spec{TopNode: doc.TopNode}
	for _, n := range doc.Nodes {
		ns, err := n.toSpec()
		if err != nil {
			panic("schemaio: embedded meta schema: " + err.Error())
		}
		spec.Nodes = append(spec.Nodes, ns)
	}
	return spec
}()

// MetaSchema returns the embedded schema-of-schemas, for editor tooling
// that wants to validate hand-written schema YAML structurally. Lint does
// not consult it.
func MetaSchema() *schema.Spec { return metaSchema }

// LintIssue is one problem Lint found in a schema file, independent of
// whether schema.Compile would also reject it — Lint runs cheaper,
// file-local checks suited to an editor's on-type feedback loop.
type LintIssue struct {
	Path    string
	Message string
}

func (i LintIssue) String() string { return fmt.Sprintf("%s: %s", i.Path, i.Message) }

// Lint loads path and reports structural issues an editor should flag
// before attempting schema.Compile: empty names, a top_node that isn't
// declared, and marks excluding an undeclared mark. It does not run the
// content-expression compiler; that's schema.Compile's job.
func Lint(path string) ([]LintIssue, error) {
	spec, err := Load(path)
	if err != nil {
		return nil, err
	}

	var issues []LintIssue
	names := map[string]bool{}
	markNames := map[string]bool{}
	for _, n := range spec.Nodes {
		if n.Name == "" {
			issues = append(issues, LintIssue{path, "node declaration missing name"})
			continue
		}
		names[n.Name] = true
	}
	for _, m := range spec.Marks {
		if m.Name == "" {
			issues = append(issues, LintIssue{path, "mark declaration missing name"})
			continue
		}
		markNames[m.Name] = true
	}

	if spec.TopNode == "" {
		issues = append(issues, LintIssue{path, "top_node not set"})
	} else if !names[spec.TopNode] {
		issues = append(issues, LintIssue{path, fmt.Sprintf("top_node %q is not a declared node type", spec.TopNode)})
	}

	for _, m := range spec.Marks {
		for _, ex := range m.Excludes {
			if !markNames[ex] {
				issues = append(issues, LintIssue{path, fmt.Sprintf("mark %q excludes undeclared mark %q", m.Name, ex)})
			}
		}
	}

	return issues, nil
}
