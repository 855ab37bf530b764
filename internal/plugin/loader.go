package plugin

// Loader is one source of plugins. The discovery mechanism behind it is the
// caller's concern; the Manager only needs the flat list.
type Loader interface {
	Load() ([]Plugin, error)
}

// Objects is a Loader over an in-memory list, in order
type Objects []Plugin

func (o Objects) Load() ([]Plugin, error) {
	out := make([]Plugin, len(o))
	copy(out, o)
	return out, nil
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func() ([]Plugin, error)

func (f LoaderFunc) Load() ([]Plugin, error) { return f() }
