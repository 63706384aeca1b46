package document

import "fmt"

// ScreenshotAction says what an update does to the step's screenshot row.
type ScreenshotAction int

const (
	// ScreenshotKeepAbsent: no screenshot before, none requested.
	ScreenshotKeepAbsent ScreenshotAction = iota
	// ScreenshotCreate: a screenshot row is added to a step that had none.
	ScreenshotCreate
	// ScreenshotOverwrite: the existing row is overwritten in place.
	ScreenshotOverwrite
	// ScreenshotRemove: the existing row is deleted.
	ScreenshotRemove
)

func (a ScreenshotAction) String() string {
	switch a {
	case ScreenshotCreate:
		return "create"
	case ScreenshotOverwrite:
		return "overwrite"
	case ScreenshotRemove:
		return "remove"
	}
	return "keep-absent"
}

// StepUpdate is an in-place update of a persisted step.
type StepUpdate struct {
	StepID     string
	Spec       StepSpec
	Screenshot ScreenshotAction
}

// StepDelete removes a step and, when present, its screenshot row.
type StepDelete struct {
	StepID        string
	HasScreenshot bool
}

// Plan is the minimal set of structural changes between the persisted
// steps of a document and a desired state.
type Plan struct {
	ToCreate          []StepSpec
	ToUpdate          []StepUpdate
	ToDelete          []StepDelete
	ScreenshotOrphans []string
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// DeleteIDs lists the step IDs removed by the plan.
func (p Plan) DeleteIDs() []string {
	ids := make([]string, 0, len(p.ToDelete))
	for _, d := range p.ToDelete {
		ids = append(ids, d.StepID)
	}
	return ids
}

// ScreenshotDeleteStepIDs lists the steps whose screenshot rows must go
// before the steps themselves are deleted.
func (p Plan) ScreenshotDeleteStepIDs() []string {
	var ids []string
	for _, d := range p.ToDelete {
		if d.HasScreenshot {
			ids = append(ids, d.StepID)
		}
	}
	return ids
}

// Diff computes the plan that turns current (the persisted steps of
// documentID) into desired, removing deleteIDs. It performs no I/O.
//
// Steps referenced by ID, either for update or delete, must belong to
// documentID; anything else is an ErrValidation fault.
func Diff(documentID string, current []Step, desired []StepSpec, deleteIDs []string) (Plan, error) {
	var plan Plan

	byID := make(map[string]*Step, len(current))
	for i := range current {
		s := &current[i]
		if s.DocumentID != "" && s.DocumentID != documentID {
			return Plan{}, fmt.Errorf("%w: step %s belongs to document %s, not %s", ErrValidation, s.ID, s.DocumentID, documentID)
		}
		byID[s.ID] = s
	}

	orphans := newOrphanSet()
	deleted := make(map[string]bool, len(deleteIDs))
	for _, id := range deleteIDs {
		if deleted[id] {
			continue
		}
		existing, ok := byID[id]
		if !ok {
			return Plan{}, fmt.Errorf("%w: step %s to delete does not belong to document %s", ErrValidation, id, documentID)
		}
		deleted[id] = true
		plan.ToDelete = append(plan.ToDelete, StepDelete{StepID: id, HasScreenshot: existing.Screenshot != nil})
		if existing.Screenshot != nil {
			orphans.add(existing.Screenshot.GoogleImageID)
		}
	}

	updated := make(map[string]bool)
	for _, spec := range desired {
		if spec.ID == "" {
			plan.ToCreate = append(plan.ToCreate, spec)
			continue
		}
		existing, ok := byID[spec.ID]
		if !ok {
			return Plan{}, fmt.Errorf("%w: step %s does not belong to document %s", ErrValidation, spec.ID, documentID)
		}
		if deleted[spec.ID] {
			return Plan{}, fmt.Errorf("%w: step %s is both updated and deleted", ErrValidation, spec.ID)
		}
		if updated[spec.ID] {
			return Plan{}, fmt.Errorf("%w: step %s is updated more than once", ErrValidation, spec.ID)
		}
		updated[spec.ID] = true

		up := StepUpdate{StepID: spec.ID, Spec: spec}
		switch {
		case spec.Screenshot != nil && existing.Screenshot != nil:
			up.Screenshot = ScreenshotOverwrite
			if existing.Screenshot.GoogleImageID != spec.Screenshot.GoogleImageID {
				orphans.add(existing.Screenshot.GoogleImageID)
			}
		case spec.Screenshot != nil:
			up.Screenshot = ScreenshotCreate
		case existing.Screenshot != nil:
			up.Screenshot = ScreenshotRemove
			orphans.add(existing.Screenshot.GoogleImageID)
		default:
			up.Screenshot = ScreenshotKeepAbsent
		}
		plan.ToUpdate = append(plan.ToUpdate, up)
	}

	// An image moved to another step in the same call is still referenced.
	live := make(map[string]bool)
	for _, s := range current {
		if s.Screenshot != nil && !deleted[s.ID] && !updated[s.ID] {
			live[s.Screenshot.GoogleImageID] = true
		}
	}
	for _, spec := range desired {
		if spec.Screenshot != nil {
			live[spec.Screenshot.GoogleImageID] = true
		}
	}
	for _, id := range orphans.ids {
		if !live[id] {
			plan.ScreenshotOrphans = append(plan.ScreenshotOrphans, id)
		}
	}
	return plan, nil
}

type orphanSet struct {
	seen map[string]bool
	ids  []string
}

func newOrphanSet() *orphanSet {
	return &orphanSet{seen: map[string]bool{}}
}

func (o *orphanSet) add(id string) {
	if id == "" || o.seen[id] {
		return
	}
	o.seen[id] = true
	o.ids = append(o.ids, id)
}
