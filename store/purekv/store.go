package purekv

import (
	"errors"

	"github.com/gasparian/hash-dot-go/store"
	pkv "github.com/gasparian/pure-kv-go/client"
)

const statesBucket = "states"

var (
	keyNotFoundErr = errors.New("Key not found")
)

// Config holds pure-kv server address and client timeout value
type Config struct {
	Address string
	Timeout int
}

// PureKvStore keeps checkpoint blobs on a pure-kv service, one record per
// layer name, so several processes can share the same saved model
type PureKvStore struct {
	config Config
	client *pkv.Client
}

// New creates the store with the specified params
func New(config Config) *PureKvStore {
	return &PureKvStore{
		config: config,
		client: pkv.New(config.Address, config.Timeout),
	}
}

// Start opens the rpc client and prepares the states bucket
func (p *PureKvStore) Start() error {
	if err := p.client.Open(); err != nil {
		return err
	}
	return p.client.Create(statesBucket)
}

// Close shutdowns rpc client
func (p *PureKvStore) Close() {
	p.client.Close()
}

// SetState stores the blob under the layer name
func (p *PureKvStore) SetState(name string, blob []byte) error {
	return p.client.Set(statesBucket, name, blob)
}

// GetState returns the stored blob for the layer name
func (p *PureKvStore) GetState(name string) ([]byte, error) {
	tmpVal, ok := p.client.Get(statesBucket, name)
	if !ok {
		return nil, keyNotFoundErr
	}
	blob := tmpVal.([]byte)
	return blob, nil
}

// KeysIterator pulls stored layer names from the service one by one
type KeysIterator struct {
	client *pkv.Client
}

// Next returns the next stored name, false once the server-side iterator stops
func (it *KeysIterator) Next() (string, bool) {
	if it.client == nil {
		return "", false
	}
	name, _, err := it.client.Next(statesBucket)
	if err != nil {
		it.client.Close()
		return "", false
	}
	return name, true
}

// GetNamesIterator prepares a server-side iterator over the states bucket
func (p *PureKvStore) GetNamesIterator() (store.Iterator, error) {
	if err := p.client.MakeIterator(statesBucket); err != nil {
		return nil, err
	}
	it := &KeysIterator{
		client: pkv.New(p.config.Address, p.config.Timeout),
	}
	return it, nil
}

// Clear drops every stored state
func (p *PureKvStore) Clear() error {
	return p.client.Destroy(statesBucket)
}
