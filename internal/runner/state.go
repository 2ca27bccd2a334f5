package runner

// State is a step of the per-test state machine:
//
//	Idle -> BuildingPackages -> RouterUp -> FleetUp -> AwaitingVerdict
//	     -> {Passed | Failed | TimedOut} -> CleaningUp -> Done
//
// Any failure before AwaitingVerdict moves straight to Failed.
type State string

const (
	StateIdle             State = "Idle"
	StateBuildingPackages State = "BuildingPackages"
	StateRouterUp         State = "RouterUp"
	StateFleetUp          State = "FleetUp"
	StateAwaitingVerdict  State = "AwaitingVerdict"
	StatePassed           State = "Passed"
	StateFailed           State = "Failed"
	StateTimedOut         State = "TimedOut"
	StateCleaningUp       State = "CleaningUp"
	StateDone             State = "Done"
)

// Terminal reports whether s carries a verdict.
func (s State) Terminal() bool {
	return s == StatePassed || s == StateFailed || s == StateTimedOut
}
