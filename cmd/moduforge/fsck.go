package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/schemaio"
	"github.com/moduforge/moduforge/internal/snapshot"
	"github.com/moduforge/moduforge/internal/tree"
)

// runFsck handles the "moduforge fsck FILE" subcommand: it deserializes
// a JSON snapshot, checks the rebuilt tree's structural invariants, and,
// with --schema, validates every node's content and marks against a
// compiled schema.
func runFsck(args []string) error {
	fs := flag.NewFlagSet("fsck", flag.ExitOnError)
	schemaPath := fs.String("schema", "", "path to a YAML schema file to validate content/marks against")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: moduforge fsck [--schema=FILE] SNAPSHOT.json")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	tr, version, err := snapshot.Deserialize(data)
	if err != nil {
		return fmt.Errorf("deserializing snapshot: %w", err)
	}

	if err := tr.CheckInvariants(); err != nil {
		return fmt.Errorf("tree invariants violated: %w", err)
	}
	fmt.Printf("ok: version=%d root=%s tree invariants hold\n", version, tr.RootID())

	if *schemaPath == "" {
		return nil
	}

	spec, err := schemaio.Load(*schemaPath)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	sch, err := schema.Compile(*spec)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	violations := checkAgainstSchema(tr, sch)
	if len(violations) == 0 {
		fmt.Println("ok: every node validates against the schema")
		return nil
	}
	for _, v := range violations {
		fmt.Println(v)
	}
	return fmt.Errorf("%d schema violation(s)", len(violations))
}

// checkAgainstSchema walks every node reachable from tr's root and
// reports content-match and mark-allowance violations. It does not
// validate attribute defaults/open-ness; that is schema.Compile's own
// construction-time contract, not a fsck-time one.
func checkAgainstSchema(tr *tree.Tree, sch *schema.Schema) []string {
	var violations []string
	ids := append([]string{tr.RootID()}, tr.Descendants(tr.RootID())...)
	for _, id := range ids {
		n := tr.Get(id)
		if n == nil {
			violations = append(violations, fmt.Sprintf("node %q: dangling reference", id))
			continue
		}

		childTypes := make([]string, 0, len(n.Content))
		for _, childID := range n.Content {
			if child := tr.Get(childID); child != nil {
				childTypes = append(childTypes, child.TypeName)
			}
		}
		if !sch.ValidateFragment(n.TypeName, childTypes) {
			violations = append(violations, fmt.Sprintf("node %q (%s): content %v does not match schema", id, n.TypeName, childTypes))
		}

		for _, m := range n.Marks {
			if !sch.AllowsMark(n.TypeName, m.TypeName) {
				violations = append(violations, fmt.Sprintf("node %q (%s): mark %q not allowed", id, n.TypeName, m.TypeName))
			}
		}
	}
	return violations
}
