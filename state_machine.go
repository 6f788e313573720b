package account

import (
	"context"
)

// State is a position on one of the two lifecycle axes.
type State string

const (
	// Activation axis.
	StateUnregistered      State = "unregistered"
	StatePendingActivation State = "pending_activation"
	StateActive            State = "active"

	// Password axis, orthogonal to activation.
	StateNormal       State = "normal"
	StateResetPending State = "reset_pending"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  State
	To    State
}

// TransitionHook runs before a transition is applied. An error aborts it.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*StateMachine)

// WithBeforeTransitionHook adds a hook executed before every transition.
func WithBeforeTransitionHook(h TransitionHook) StateMachineOption {
	return func(sm *StateMachine) {
		if h != nil {
			sm.beforeHooks = append(sm.beforeHooks, h)
		}
	}
}

// StateMachine holds the allowed transitions on both axes.
type StateMachine struct {
	transitions map[State]map[State]struct{}
	beforeHooks []TransitionHook
}

func NewStateMachine(opts ...StateMachineOption) *StateMachine {
	sm := &StateMachine{
		transitions: map[State]map[State]struct{}{
			StateUnregistered: {
				StatePendingActivation: {},
			},
			StatePendingActivation: {
				StateActive: {},
			},
			StateNormal: {
				StateResetPending: {},
			},
			StateResetPending: {
				StateNormal: {},
			},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	return sm
}

// CanTransition reports whether from -> to is allowed.
func (sm *StateMachine) CanTransition(from, to State) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Transition validates from -> to, runs the hooks and then apply. Nothing is
// applied when validation or a hook fails. A self transition leaves the axis
// where it is, so apply runs without validation or hooks (a second reset
// request, a password change without a pending reset).
func (sm *StateMachine) Transition(ctx context.Context, tc TransitionContext, apply func(ctx context.Context) error) error {
	if tc.From == tc.To && tc.From != StateUnregistered {
		if apply == nil {
			return nil
		}
		return apply(ctx)
	}

	if !sm.CanTransition(tc.From, tc.To) {
		return errInvalidTransition(tc.From, tc.To)
	}

	for _, hook := range sm.beforeHooks {
		if err := hook(ctx, tc); err != nil {
			return err
		}
	}

	if apply == nil {
		return nil
	}
	return apply(ctx)
}
