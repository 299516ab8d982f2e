package records

// Source names which persistence layer produced a result.
type Source string

const (
	// SourceRemote means the backend answered and the value is
	// authoritative.
	SourceRemote Source = "remote"
	// SourceLocal means the backend failed and the value came from
	// the local cache.
	SourceLocal Source = "local"
)

// Outcome describes how a repository operation concluded. Err carries
// the remote failure that forced the fallback; it is nil when the
// backend answered.
type Outcome struct {
	Source Source
	Err    error
}

// Degraded reports whether the operation fell back to the local cache.
func (o Outcome) Degraded() bool {
	return o.Source == SourceLocal
}

// Result pairs an operation's value with its outcome. Callers that only
// care about the value can ignore the outcome entirely; the repository
// guarantees Value is usable either way.
type Result[T any] struct {
	Value   T
	Outcome Outcome
}

func remoteResult[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: Outcome{Source: SourceRemote}}
}

func localResult[T any](v T, err error) Result[T] {
	return Result[T]{Value: v, Outcome: Outcome{Source: SourceLocal, Err: err}}
}
