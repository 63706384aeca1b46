package document

// Per-variant cost in seconds. Only STEP depends on screenshot presence.
const (
	StepWithScreenshotSeconds    = 30
	StepWithoutScreenshotSeconds = 10
	TipsSeconds                  = 5
	HeaderSeconds                = 2
	AlertSeconds                 = 8
)

// StepSeconds returns the estimated cost of a single step.
func StepSeconds(t StepType, hasScreenshot bool) int {
	switch t {
	case StepTypeStep:
		if hasScreenshot {
			return StepWithScreenshotSeconds
		}
		return StepWithoutScreenshotSeconds
	case StepTypeTips:
		return TipsSeconds
	case StepTypeHeader:
		return HeaderSeconds
	case StepTypeAlert:
		return AlertSeconds
	}
	return 0
}

// EstimateSteps sums the cost of persisted steps.
func EstimateSteps(steps []Step) int {
	total := 0
	for _, s := range steps {
		total += StepSeconds(s.Type, s.Screenshot != nil)
	}
	return total
}

// EstimateSpecs sums the cost of steps that are about to be created.
func EstimateSpecs(specs []StepSpec) int {
	total := 0
	for _, s := range specs {
		total += StepSeconds(s.Type, s.Screenshot != nil)
	}
	return total
}
