package step

import (
	"encoding/json"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// AddMark appends Marks to node ID's mark list, honoring mark-type
// compatibility and excludes.
type AddMark struct {
	ID    string
	Marks []tree.Mark
}

func (AddMark) Kind() string { return "add_mark" }

func (s AddMark) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	n := t.Get(s.ID)
	if n == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "node "+s.ID+" not found")
	}
	existing := make([]string, len(n.Marks))
	for i, m := range n.Marks {
		existing[i] = m.TypeName
	}
	newMarks := append([]tree.Mark{}, n.Marks...)
	for _, m := range s.Marks {
		if !sch.AllowsMark(n.TypeName, m.TypeName) {
			return nil, merr.NewStepError(merr.ErrMarkNotAllowed, s.ID, "mark "+m.TypeName+" not allowed on "+n.TypeName)
		}
		if sch.MarksExclude(m.TypeName, existing) {
			return nil, merr.NewStepError(merr.ErrMarkNotAllowed, s.ID, "mark "+m.TypeName+" excluded by an existing mark")
		}
		replaced := false
		for i, e := range newMarks {
			if e.TypeName == m.TypeName {
				newMarks[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			newMarks = append(newMarks, m)
			existing = append(existing, m.TypeName)
		}
	}
	return t.ReplaceMarks(s.ID, newMarks)
}

func (s AddMark) Invert(pre *tree.Tree) Step {
	n := pre.Get(s.ID)
	var prior []tree.Mark
	if n != nil {
		prior = n.Marks
	}
	return ReplaceMarksTo{ID: s.ID, Marks: prior}
}

func (s AddMark) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ID) {
		return nil, false
	}
	return s, true
}

func (s AddMark) MarshalJSON() ([]byte, error) {
	type alias AddMark
	return json.Marshal(alias(s))
}

// RemoveMark deletes every mark of the given types from node ID.
type RemoveMark struct {
	ID        string
	MarkTypes []string
}

func (RemoveMark) Kind() string { return "remove_mark" }

func (s RemoveMark) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	n := t.Get(s.ID)
	if n == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "node "+s.ID+" not found")
	}
	remove := map[string]bool{}
	for _, mt := range s.MarkTypes {
		remove[mt] = true
	}
	var kept []tree.Mark
	for _, m := range n.Marks {
		if !remove[m.TypeName] {
			kept = append(kept, m)
		}
	}
	return t.ReplaceMarks(s.ID, kept)
}

func (s RemoveMark) Invert(pre *tree.Tree) Step {
	n := pre.Get(s.ID)
	var prior []tree.Mark
	if n != nil {
		prior = n.Marks
	}
	return ReplaceMarksTo{ID: s.ID, Marks: prior}
}

func (s RemoveMark) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ID) {
		return nil, false
	}
	return s, true
}

func (s RemoveMark) MarshalJSON() ([]byte, error) {
	type alias RemoveMark
	return json.Marshal(alias(s))
}

// ReplaceMarksTo is an internal step used only to express the exact
// inverse of AddMark/RemoveMark (restoring the prior mark list verbatim,
// including order), not constructed directly by callers.
type ReplaceMarksTo struct {
	ID    string
	Marks []tree.Mark
}

func (ReplaceMarksTo) Kind() string { return "replace_marks_to" }

func (s ReplaceMarksTo) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	if t.Get(s.ID) == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "node "+s.ID+" not found")
	}
	return t.ReplaceMarks(s.ID, s.Marks)
}

func (s ReplaceMarksTo) Invert(pre *tree.Tree) Step {
	n := pre.Get(s.ID)
	var prior []tree.Mark
	if n != nil {
		prior = n.Marks
	}
	return ReplaceMarksTo{ID: s.ID, Marks: prior}
}

func (s ReplaceMarksTo) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ID) {
		return nil, false
	}
	return s, true
}

func (s ReplaceMarksTo) MarshalJSON() ([]byte, error) {
	type alias ReplaceMarksTo
	return json.Marshal(alias(s))
}

func init() {
	Register("add_mark", func(data []byte) (Step, error) {
		var s AddMark
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	Register("remove_mark", func(data []byte) (Step, error) {
		var s RemoveMark
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	Register("replace_marks_to", func(data []byte) (Step, error) {
		var s ReplaceMarksTo
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
}
