package loner

import "errors"

var (
	// ErrUnknownJobType indicates a type name (or one of its namespace components) is not registered.
	ErrUnknownJobType = errors.New("loner: unknown job type")

	// ErrMalformedTypeName indicates a type name that cannot be parsed (empty, empty slug segment).
	ErrMalformedTypeName = errors.New("loner: malformed job type name")

	// ErrNotJobType indicates the name resolves to a namespace, not a job type.
	ErrNotJobType = errors.New("loner: name is a namespace, not a job type")

	// ErrDuplicateType indicates a job type is already registered under the name.
	ErrDuplicateType = errors.New("loner: job type already registered")

	// ErrMalformedPayload indicates a queue entry could not be decoded into a job.
	ErrMalformedPayload = errors.New("loner: malformed job payload")

	// ErrUnencodableArgs indicates job arguments cannot be canonically encoded.
	ErrUnencodableArgs = errors.New("loner: job arguments cannot be encoded")

	// ErrNoDefaultQueue indicates the job type does not name its own queue.
	ErrNoDefaultQueue = errors.New("loner: job type has no default queue")

	// ErrClosed indicates the store or backend has been closed.
	ErrClosed = errors.New("loner: closed")
)
