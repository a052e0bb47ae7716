package statemachine

import (
	"fmt"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
)

// States is an ordered list of states, each leading to the one after it.
type States[S comparable] []S

// Next returns the state following s. ok is false when s is the last state.
func (states States[S]) Next(s S) (next S, ok bool, err error) {
	for i, state := range states {
		if state != s {
			continue
		}
		if i == len(states)-1 {
			return next, false, nil
		}
		return states[i+1], true, nil
	}

	return next, false, fmt.Errorf("unknown state %v", s)
}

var MessageStates = States[db.MessageState]{
	db.StateSent,
	db.StateAwaitingFinality,
	db.StateProofAvailable,
	db.StateRelayable,
	db.StateRelayed,
}
