package sfu

import "errors"

var (
	// ErrRoomNotFound is returned when a room exists nowhere: neither in the
	// local registry nor in the presence store.
	ErrRoomNotFound = errors.New("room not found")

	// ErrTransportNotFound is returned when no transport matches the
	// requested id or (client, direction) key.
	ErrTransportNotFound = errors.New("transport not found")

	// ErrConsumerNotFound is returned when resuming an unknown consumer.
	ErrConsumerNotFound = errors.New("consumer not found")

	// ErrCannotConsume is returned when the router reports the consuming
	// capabilities as incompatible with the target producer.
	ErrCannotConsume = errors.New("cannot consume producer with the given capabilities")
)
