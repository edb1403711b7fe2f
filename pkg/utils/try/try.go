// Package try shortens "value or die" sequences in mains and tests.
//
//	cfg := try.To(configs.LoadServiceConfig(path)).OrFatal(logger)
package try

// Fataler is something which can abort with a message.
//
// *testing.T and *log.Logger are Fatalers.
type Fataler interface {
	Fatal(...any)
}

// Either holds a pair of (T, error).
//
// It is "ok" when error is nil. Then the T value is valid.
type Either[T any] interface {
	// Get returns the held value and error as is.
	Get() (T, error)

	// OrFatal returns the value when it is ok.
	//
	// Otherwise, it calls ftl.Fatal(err).
	// When ftl has Helper() (like *testing.T), Helper is called before Fatal.
	OrFatal(ftl Fataler) T

	// OrDefault returns the value when it is ok, or d otherwise.
	OrDefault(d T) T
}

// To wraps a result of a function call.
func To[T any](v T, err error) Either[T] {
	if err != nil {
		return ng[T]{err: err}
	}
	return ok[T]{value: v}
}

// Map converts the value if e is ok.
func Map[T, R any](e Either[T], mapper func(T) R) Either[R] {
	v, err := e.Get()
	if err != nil {
		return ng[R]{err: err}
	}
	return ok[R]{value: mapper(v)}
}

// TryMap converts the value with a fallible mapper if e is ok.
func TryMap[T, R any](e Either[T], mapper func(T) (R, error)) Either[R] {
	v, err := e.Get()
	if err != nil {
		return ng[R]{err: err}
	}
	return To(mapper(v))
}

type ok[T any] struct {
	value T
}

func (o ok[T]) Get() (T, error) {
	return o.value, nil
}

func (o ok[T]) OrFatal(Fataler) T {
	return o.value
}

func (o ok[T]) OrDefault(T) T {
	return o.value
}

type ng[T any] struct {
	err error
}

func (n ng[T]) Get() (T, error) {
	return *new(T), n.err
}

func (n ng[T]) OrFatal(ftl Fataler) T {
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(n.err)
	return *new(T)
}

func (n ng[T]) OrDefault(d T) T {
	return d
}
