package auth

import (
	"fmt"
	"time"
)

// State is a progress notification of an authentication attempt. States are
// transient and never persisted.
type State int

const (
	StateStartedInteractive State = iota
	StateFallbackToDeviceCode
	StateCompleted
	StateFailed
	StateSignOut
)

var stateNames = map[State]string{
	StateStartedInteractive:   "StartedInteractive",
	StateFallbackToDeviceCode: "FallbackToDeviceCode",
	StateCompleted:            "Completed",
	StateFailed:               "Failed",
	StateSignOut:              "SignOut",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name, e.g. in JSON status documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DeviceCodePrompt is what a user needs to complete device-code sign-in on
// another device.
type DeviceCodePrompt struct {
	VerificationURL string    `json:"verification_url"`
	UserCode        string    `json:"user_code"`
	Message         string    `json:"message,omitempty"`
	ExpiresOn       time.Time `json:"expires_on"`
}

// Observer receives engine notifications. Callbacks run synchronously on the
// goroutine performing the transition and must not block; hosts with
// thread-affine state wrap their observer with Deferred.
type Observer interface {
	OnAuthenticationChanged(state State)
	OnPresentDeviceCode(prompt DeviceCodePrompt)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChanged func(State)
	DeviceCode   func(DeviceCodePrompt)
}

// Compile-time check to ensure ObserverFuncs implements Observer
var _ Observer = ObserverFuncs{}

func (f ObserverFuncs) OnAuthenticationChanged(state State) {
	if f.StateChanged != nil {
		f.StateChanged(state)
	}
}

func (f ObserverFuncs) OnPresentDeviceCode(prompt DeviceCodePrompt) {
	if f.DeviceCode != nil {
		f.DeviceCode(prompt)
	}
}

// Enqueuer accepts callbacks for later execution on a host goroutine.
type Enqueuer interface {
	Enqueue(fn func())
}

// Deferred returns an Observer that forwards every notification to o through
// q, preserving emission order.
func Deferred(q Enqueuer, o Observer) Observer {
	return deferredObserver{queue: q, next: o}
}

type deferredObserver struct {
	queue Enqueuer
	next  Observer
}

func (d deferredObserver) OnAuthenticationChanged(state State) {
	d.queue.Enqueue(func() { d.next.OnAuthenticationChanged(state) })
}

func (d deferredObserver) OnPresentDeviceCode(prompt DeviceCodePrompt) {
	d.queue.Enqueue(func() { d.next.OnPresentDeviceCode(prompt) })
}
