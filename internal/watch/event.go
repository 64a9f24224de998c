package watch

// Kind is the type of a filesystem change.
type Kind int

const (
	Created Kind = iota + 1
	Deleted
	Moved
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	}
	return "unknown"
}

// Event is one change below a watched root. Dest is set for Moved only.
type Event struct {
	Kind Kind
	Path string
	Dest string
}
