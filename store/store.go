package store

// Iterator consists from only one method which returns the name of the next
// stored layer state
type Iterator interface {
	Next() (string, bool)
}

// Store holds serialized layer states keyed by layer name, so checkpoints
// can live in-process or on a shared KV service behind the same interface
type Store interface {
	SetState(name string, blob []byte) error
	GetState(name string) ([]byte, error)
	GetNamesIterator() (Iterator, error)
	Clear() error
}
