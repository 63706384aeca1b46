package document

import (
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	MaxTitleLength           = 200
	MaxDescriptionLength     = 1000
	MaxStepDescriptionLength = 500
	MaxStepsPerDocument      = 100
)

// ValidateNewDocument checks the shape of a creation request.
func ValidateNewDocument(nd NewDocument) error {
	if err := validateTitle(nd.Title); err != nil {
		return err
	}
	if nd.Description != nil && utf8.RuneCountInString(*nd.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)
	}
	if len(nd.Steps) == 0 || len(nd.Steps) > MaxStepsPerDocument {
		return fmt.Errorf("%w: a document needs between 1 and %d steps", ErrValidation, MaxStepsPerDocument)
	}
	for i, s := range nd.Steps {
		if s.ID != "" {
			return fmt.Errorf("%w: steps[%d]: new documents cannot reference existing steps", ErrValidation, i)
		}
		if err := validateStepSpec(s); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateDesired checks everything about a reconciliation request that
// does not need the persisted state.
func ValidateDesired(d Desired) error {
	if t, ok := d.Metadata.Title.Get(); ok {
		if err := validateTitle(t); err != nil {
			return err
		}
	}
	if desc, ok := d.Metadata.Description.Get(); ok && desc != nil && utf8.RuneCountInString(*desc) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)
	}

	deleting := make(map[string]bool, len(d.DeleteStepIDs))
	for _, id := range d.DeleteStepIDs {
		if id == "" {
			return fmt.Errorf("%w: empty step id in deleteStepIds", ErrValidation)
		}
		deleting[id] = true
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if err := validateStepSpec(s); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if s.ID == "" {
			continue
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: steps[%d]: step %s listed twice", ErrValidation, i, s.ID)
		}
		if deleting[s.ID] {
			return fmt.Errorf("%w: steps[%d]: step %s is also marked for deletion", ErrValidation, i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func validateTitle(t string) error {
	n := utf8.RuneCountInString(t)
	if n == 0 || n > MaxTitleLength {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrValidation, MaxTitleLength)
	}
	return nil
}

func validateStepSpec(s StepSpec) error {
	n := utf8.RuneCountInString(s.StepDescription)
	if n == 0 || n > MaxStepDescriptionLength {
		return fmt.Errorf("%w: stepDescription must be 1-%d characters", ErrValidation, MaxStepDescriptionLength)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown step type %q", ErrValidation, s.Type)
	}
	if math.IsNaN(s.StepNumber) || math.IsInf(s.StepNumber, 0) {
		return fmt.Errorf("%w: stepNumber must be a finite number", ErrValidation)
	}
	if sc := s.Screenshot; sc != nil {
		if sc.GoogleImageID == "" || sc.URL == "" {
			return fmt.Errorf("%w: screenshot needs googleImageId and url", ErrValidation)
		}
		if sc.DevicePixelRatio < 0 {
			return fmt.Errorf("%w: devicePixelRatio must not be negative", ErrValidation)
		}
	}
	return nil
}
