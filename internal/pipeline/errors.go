package pipeline

import "fmt"

// AssemblyError means the fragments could not be stitched into the unit's
// output file. It aborts the unit; the ledger is left untouched.
type AssemblyError struct {
	UnitID string
	Err    error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble unit %s: %v", e.UnitID, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// DeliveryError means the assembled audio could not be handed off. The
// unit stays unsynthesized in the ledger so a later run retries it.
type DeliveryError struct {
	UnitID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver unit %s: %v", e.UnitID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
