package persistence

import "context"

// Noop discards writes and returns no entries.
type Noop struct{}

func (Noop) Ping(context.Context) error         { return nil }
func (Noop) Store(context.Context, Entry) error { return nil }
func (Noop) Query(context.Context, string, int) ([]Entry, error) {
	return nil, nil
}
func (Noop) Update(context.Context, string, Patch) error { return nil }
func (Noop) Delete(context.Context, string) error        { return nil }
func (Noop) Close() error                                { return nil }

var _ Delegate = Noop{}
