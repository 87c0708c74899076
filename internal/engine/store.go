package engine

import "github.com/celerix-dev/agricare/pkg/sdk"

// Compile-time check that the embedded engine satisfies the SDK contract.
var _ sdk.DocumentStore = (*MemStore)(nil)

// OpenDir loads every collection found in dir and returns a MemStore that
// persists back to it.
func OpenDir(dir string, opts ...Option) (*MemStore, error) {
	m := NewMemStore(nil, nil, opts...)

	p, err := NewPersistence(dir, m.logger)
	if err != nil {
		return nil, err
	}
	allData, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	m.data = allData
	m.persister = p
	return m, nil
}
