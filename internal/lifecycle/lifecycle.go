// Package lifecycle defines the order status state machine.
//
// The machine is a transition table only. It is enforced where orders are
// mutated: the store derives the predicate of each conditional write from
// Sources, so a stale writer matches zero rows instead of overwriting.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the wire name of an order state.
type Status string

const (
	Pending        Status = "PENDING"
	OutForDelivery Status = "OUT_FOR_DELIVERY"
	Delivered      Status = "DELIVERED"
	Cancelled      Status = "CANCELLED"
)

var ErrIllegalTransition = errors.New("illegal status transition")

var transitions = map[Status][]Status{
	Pending:        {OutForDelivery, Cancelled},
	OutForDelivery: {Delivered},
	Delivered:      nil,
	Cancelled:      nil,
}

// Parse returns the Status named by s.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Assigned reports whether an order in state s must carry a delivery agent.
func (s Status) Assigned() bool {
	return s == OutForDelivery || s == Delivered
}

func (s Status) String() string { return string(s) }

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns nil when from -> to is a legal edge.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Sources lists the states from which to can be reached.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range []Status{Pending, OutForDelivery, Delivered, Cancelled} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
