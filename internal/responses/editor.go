package responses

import (
	"errors"
	"fmt"

	"github.com/foilportal/pkg/models"
)

// ErrNoChanges is returned when an edit's values all equal the current
// values. No event is written for such an edit; edits with no observable
// delta must not pollute the audit log.
var ErrNoChanges = errors.New("no changes detected")

// ErrNotEditable is returned for response variants that have no editable
// fields (emails, extensions, determinations are immutable once added).
var ErrNotEditable = errors.New("response type is not editable")

// editableFields is the per-variant table of directly editable metadata
// fields. One shared diff/apply/audit routine consumes it; there is no
// per-variant editor type.
var editableFields = map[models.ResponseType][]string{
	models.ResponseFile:        {"title"},
	models.ResponseNote:        {"content"},
	models.ResponseLink:        {"title", "url"},
	models.ResponseInstruction: {"content"},
}

// EditableFields returns the editable metadata fields for a variant, or nil
// when the variant is immutable.
func EditableFields(t models.ResponseType) []string {
	return editableFields[t]
}

// ChangeSet is an incoming edit: nil pointers are absent fields, present
// pointers are the proposed values.
type ChangeSet struct {
	Fields  map[string]*string
	Privacy *models.ResponsePrivacy
}

// Diff is the observable delta of an edit, keyed by field name.
type Diff struct {
	Old            map[string]any
	New            map[string]any
	PrivacyChanged bool
}

// Empty reports whether the edit has no observable delta.
func (d Diff) Empty() bool { return len(d.New) == 0 }

// ComputeDiff compares a change set against the current metadata values for
// one response variant. Fields absent from the change set and fields whose
// proposed value equals the current value are dropped silently. A changed
// privacy level is always part of the diff, whatever the variant.
func ComputeDiff(t models.ResponseType, current map[string]string, currentPrivacy models.ResponsePrivacy, changes ChangeSet) (Diff, error) {
	fields, ok := editableFields[t]
	if !ok {
		return Diff{}, fmt.Errorf("%w: %s", ErrNotEditable, t)
	}

	diff := Diff{
		Old: make(map[string]any),
		New: make(map[string]any),
	}

	for _, field := range fields {
		proposed, present := changes.Fields[field]
		if !present || proposed == nil {
			continue
		}
		if *proposed == current[field] {
			continue
		}
		diff.Old[field] = current[field]
		diff.New[field] = *proposed
	}

	if changes.Privacy != nil && *changes.Privacy != currentPrivacy {
		diff.Old["privacy"] = string(currentPrivacy)
		diff.New["privacy"] = string(*changes.Privacy)
		diff.PrivacyChanged = true
	}

	return diff, nil
}
