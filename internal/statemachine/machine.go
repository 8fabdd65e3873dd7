// Package statemachine holds the pure order lifecycle transition table. It
// performs no I/O and owns no timers; the worker pool drives it as pipeline
// stages complete.
package statemachine

import (
	"github.com/solroute/solroute/errs"
	"github.com/solroute/solroute/internal/schema"
)

// Trigger names the pipeline occurrence that causes a transition.
type Trigger string

const (
	// TriggerClaim fires when a worker claims the order's job.
	TriggerClaim Trigger = "job_claimed"
	// TriggerQuoteSelected fires when the router picks the best quote.
	TriggerQuoteSelected Trigger = "quote_selected"
	// TriggerBuilt fires when transaction construction completes.
	TriggerBuilt Trigger = "build_complete"
	// TriggerReceipt fires when the venue returns a settlement receipt.
	TriggerReceipt Trigger = "receipt_received"
	// TriggerFault fires on an unrecoverable stage error.
	TriggerFault Trigger = "fault"
)

var transitions = map[schema.OrderState]map[Trigger]schema.OrderState{
	schema.StatePending: {
		TriggerClaim: schema.StateRouting,
	},
	schema.StateRouting: {
		TriggerQuoteSelected: schema.StateBuilding,
	},
	schema.StateBuilding: {
		TriggerBuilt: schema.StateSubmitted,
	},
	schema.StateSubmitted: {
		TriggerReceipt: schema.StateConfirmed,
	},
}

// Next resolves the state reached by applying trigger in state from.
// TriggerFault is accepted from every non-terminal state; terminal states
// reject all triggers.
func Next(from schema.OrderState, trigger Trigger) (schema.OrderState, error) {
	if !from.Valid() {
		return "", errs.New("statemachine/next", errs.CodeInvalid,
			errs.WithMessage("unknown state "+string(from)))
	}
	if from.Terminal() {
		return "", errs.New("statemachine/next", errs.CodeInvalid,
			errs.WithMessage("state "+string(from)+" is terminal"))
	}
	if trigger == TriggerFault {
		return schema.StateFailed, nil
	}
	next, ok := transitions[from][trigger]
	if !ok {
		return "", errs.New("statemachine/next", errs.CodeInvalid,
			errs.WithMessage("trigger "+string(trigger)+" not allowed in state "+string(from)))
	}
	return next, nil
}
