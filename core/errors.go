package core

import "errors"

var (
	// ErrConfiguration marks malformed binding or listener declarations:
	// blank names, missing destinations, conflicting input/output designations.
	ErrConfiguration = errors.New("cloudstream: configuration error")

	// ErrBinderResolution is returned when a binder cannot be resolved by name
	// or a transport fails to bind a destination.
	ErrBinderResolution = errors.New("cloudstream: binder resolution failed")

	// ErrMessaging is returned when a message cannot be dispatched, e.g. when
	// more than one matching listener would produce a value.
	ErrMessaging = errors.New("cloudstream: messaging error")

	// ErrAlreadyBound is returned when binding a channel that is already bound
	// in the same direction.
	ErrAlreadyBound = errors.New("cloudstream: channel already bound")

	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("cloudstream: broker is closed")

	// ErrNoSubscribers is returned when sending on a channel nobody listens to.
	ErrNoSubscribers = errors.New("cloudstream: channel has no subscribers")

	// ErrAlreadyStarted is returned when Start is called on a running app.
	ErrAlreadyStarted = errors.New("cloudstream: already started")
)
