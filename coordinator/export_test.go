package coordinator

// Source is the item source a Coordinator drains.
type Source = source

// WithSource replaces the Generator factory.
func WithSource(fn func(query string) Source) Option {
	return func(c *Coordinator) { c.newSource = fn }
}
