// Package agent defines identifiers and the data model for agents
// registered with the hub.
package agent

// Ident is a stable semantic agent identifier. It is kept distinct from
// plain strings so call sites cannot accidentally mix it up with run,
// thread, or tool identifiers.
type Ident string

func (i Ident) String() string { return string(i) }
