// Package schemaio parses the YAML schema file format into a
// schema.Spec: node/mark type declarations, attribute defaults, and
// import/include composition across files.
package schemaio

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
)

// attrDoc captures a declared attribute's optional default, distinguishing
// "no default" from "default explicitly null" via has.
type attrDoc struct {
	node yaml.Node
	has  bool
}

func (a *attrDoc) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Default yaml.Node `yaml:"default"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Default.Kind != 0 {
		a.node = raw.Default
		a.has = true
	}
	return nil
}

func (a attrDoc) toSpec() (schema.AttributeSpec, error) {
	if !a.has {
		return schema.AttributeSpec{}, nil
	}
	var v any
	if err := a.node.Decode(&v); err != nil {
		return schema.AttributeSpec{}, fmt.Errorf("schemaio: decoding attribute default: %w", err)
	}
	return schema.AttributeSpec{Default: jsonShape(v), HasDefault: true}, nil
}

// jsonShape normalizes yaml.v3's native decode types (int, int64, uint64)
// to float64 so defaults are string | float64 | bool | map | slice | nil,
// matching encoding/json's decode shape.
func jsonShape(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case map[string]any:
		for k, vv := range t {
			t[k] = jsonShape(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = jsonShape(vv)
		}
		return t
	default:
		return v
	}
}

func attrsToSpec(attrs map[string]attrDoc) (map[string]schema.AttributeSpec, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]schema.AttributeSpec, len(attrs))
	for name, a := range attrs {
		spec, err := a.toSpec()
		if err != nil {
			return nil, fmt.Errorf("schemaio: attribute %q: %w", name, err)
		}
		out[name] = spec
	}
	return out, nil
}

type nodeDoc struct {
	Name    string             `yaml:"name"`
	Group   string             `yaml:"group"`
	Desc    string             `yaml:"desc"`
	Content string             `yaml:"content"`
	Marks   string             `yaml:"marks"`
	Open    bool               `yaml:"open"`
	Attrs   map[string]attrDoc `yaml:"attrs"`
}

func (n nodeDoc) toSpec() (schema.NodeSpec, error) {
	attrs, err := attrsToSpec(n.Attrs)
	if err != nil {
		return schema.NodeSpec{}, err
	}
	return schema.NodeSpec{
		Name: n.Name, Group: n.Group, Desc: n.Desc,
		Content: n.Content, Marks: n.Marks, Attrs: attrs, Open: n.Open,
	}, nil
}

type markDoc struct {
	Name     string             `yaml:"name"`
	Attrs    map[string]attrDoc `yaml:"attrs"`
	Excludes []string           `yaml:"excludes"`
	Spanning bool               `yaml:"spanning"`
}

func (m markDoc) toSpec() (schema.MarkSpec, error) {
	attrs, err := attrsToSpec(m.Attrs)
	if err != nil {
		return schema.MarkSpec{}, err
	}
	return schema.MarkSpec{Name: m.Name, Attrs: attrs, Excludes: m.Excludes, Spanning: m.Spanning}, nil
}

type fileDoc struct {
	Import  []string  `yaml:"import"`
	Include []string  `yaml:"include"`
	TopNode string    `yaml:"top_node"`
	Nodes   []nodeDoc `yaml:"nodes"`
	Marks   []markDoc `yaml:"marks"`
}

// LoadString parses YAML schema data directly, without resolving import
// or include directives (there is no base directory to resolve them
// against) — for schema text embedded in another file, such as a
// config's inline schema field.
func LoadString(data []byte) (*schema.Spec, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schemaio: parsing inline schema: %w", err)
	}
	if len(doc.Import) > 0 || len(doc.Include) > 0 {
		return nil, fmt.Errorf("schemaio: inline schema cannot use import or include")
	}

	spec := &schema.Spec{TopNode: doc.TopNode}
	for _, n := range doc.Nodes {
		ns, err := n.toSpec()
		if err != nil {
			return nil, fmt.Errorf("schemaio: node %q: %w", n.Name, err)
		}
		spec.Nodes = append(spec.Nodes, ns)
	}
	for _, m := range doc.Marks {
		ms, err := m.toSpec()
		if err != nil {
			return nil, fmt.Errorf("schemaio: mark %q: %w", m.Name, err)
		}
		spec.Marks = append(spec.Marks, ms)
	}
	return spec, nil
}

// Load parses the schema file at path, resolving import and include
// directives relative to the file's own directory, and returns the
// composed schema.Spec. It does not compile the spec; call schema.Compile
// on the result.
func Load(path string) (*schema.Spec, error) {
	return load(path, map[string]bool{})
}

func load(path string, visiting map[string]bool) (*schema.Spec, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("schemaio: resolving %s: %w", path, err)
	}
	if visiting[abs] {
		return nil, fmt.Errorf("schemaio: import cycle at %s", path)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schemaio: reading %s: %w", path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schemaio: parsing %s: %w", path, err)
	}

	spec := &schema.Spec{TopNode: doc.TopNode}
	dir := filepath.Dir(path)

	mergeNode := func(n schema.NodeSpec, allowOverride bool) error {
		for i, existing := range spec.Nodes {
			if existing.Name == n.Name {
				if !allowOverride {
					return merr.NewSchemaError(merr.ErrDuplicateType, "node "+n.Name+" declared by more than one import", nil)
				}
				spec.Nodes[i] = n
				return nil
			}
		}
		spec.Nodes = append(spec.Nodes, n)
		return nil
	}
	mergeMark := func(m schema.MarkSpec, allowOverride bool) error {
		for i, existing := range spec.Marks {
			if existing.Name == m.Name {
				if !allowOverride {
					return merr.NewSchemaError(merr.ErrDuplicateType, "mark "+m.Name+" declared by more than one import", nil)
				}
				spec.Marks[i] = m
				return nil
			}
		}
		spec.Marks = append(spec.Marks, m)
		return nil
	}

	for _, rel := range doc.Import {
		child, err := load(filepath.Join(dir, rel), visiting)
		if err != nil {
			return nil, err
		}
		for _, n := range child.Nodes {
			if err := mergeNode(n, false); err != nil {
				return nil, err
			}
		}
		for _, m := range child.Marks {
			if err := mergeMark(m, false); err != nil {
				return nil, err
			}
		}
		if spec.TopNode == "" {
			spec.TopNode = child.TopNode
		}
	}

	for _, rel := range doc.Include {
		child, err := load(filepath.Join(dir, rel), visiting)
		if err != nil {
			return nil, err
		}
		for _, n := range child.Nodes {
			if err := mergeNode(n, true); err != nil {
				return nil, err
			}
		}
		for _, m := range child.Marks {
			if err := mergeMark(m, true); err != nil {
				return nil, err
			}
		}
		if spec.TopNode == "" {
			spec.TopNode = child.TopNode
		}
	}

	for _, n := range doc.Nodes {
		ns, err := n.toSpec()
		if err != nil {
			return nil, fmt.Errorf("schemaio: %s: node %q: %w", path, n.Name, err)
		}
		if err := mergeNode(ns, true); err != nil {
			return nil, err
		}
	}
	for _, m := range doc.Marks {
		ms, err := m.toSpec()
		if err != nil {
			return nil, fmt.Errorf("schemaio: %s: mark %q: %w", path, m.Name, err)
		}
		if err := mergeMark(ms, true); err != nil {
			return nil, err
		}
	}

	return spec, nil
}
