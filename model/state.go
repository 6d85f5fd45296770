package model

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gasparian/hash-dot-go/kernel"
	"github.com/gasparian/hash-dot-go/lsh"
	"github.com/gasparian/hash-dot-go/vector"
)

const (
	// KindLinear marks a dense layer state
	KindLinear = "linear"
	// KindHash marks a hash kernel state
	KindHash = "hash"
)

var (
	// ErrMissingLayerState is returned when a stateful layer has no entry in the checkpoint
	ErrMissingLayerState = errors.New("checkpoint is missing state for a model layer")
	// ErrKindMismatch is returned when a checkpoint entry belongs to a different layer type
	ErrKindMismatch = errors.New("checkpoint entry kind does not match the layer type")
)

// LayerState is the serialized form of one layer's parameters, keyed by
// layer name in a checkpoint. Hash layers persist W and P together so a
// reload reproduces bit-identical codes for identical inputs.
type LayerState struct {
	Kind      string
	Rows      int
	Cols      int
	K         int
	Learnable bool
	Clip      float64
	Weight    []float64
	Bias      []float64
	Planes    []float64
}

// State collects the parameters of every stateful layer keyed by name;
// stateless layers (activations, containers) contribute nothing
func (m *Sequential) State() (map[string]LayerState, error) {
	states := make(map[string]LayerState)
	if err := collectState(m, states); err != nil {
		return nil, err
	}
	return states, nil
}

func collectState(m *Sequential, states map[string]LayerState) error {
	for _, l := range m.layers {
		switch layer := l.(type) {
		case *Sequential:
			if err := collectState(layer, states); err != nil {
				return err
			}
		case *Linear:
			if _, ok := states[layer.Name()]; ok {
				return fmt.Errorf("%w: %q", ErrDuplicateName, layer.Name())
			}
			w := layer.Weight()
			states[layer.Name()] = LayerState{
				Kind:   KindLinear,
				Rows:   w.Rows,
				Cols:   w.Cols,
				Weight: w.Data,
				Bias:   layer.Bias(),
			}
		case *HashLayer:
			if _, ok := states[layer.Name()]; ok {
				return fmt.Errorf("%w: %q", ErrDuplicateName, layer.Name())
			}
			w := layer.Kernel.Weight()
			planes := layer.Kernel.Projection().Planes()
			states[layer.Name()] = LayerState{
				Kind:      KindHash,
				Rows:      w.Rows,
				Cols:      w.Cols,
				K:         layer.Kernel.K(),
				Learnable: layer.Kernel.Learnable(),
				Clip:      layer.Kernel.Clip(),
				Weight:    w.Data,
				Bias:      layer.Kernel.Bias(),
				Planes:    planes.Data,
			}
		}
	}
	return nil
}

// LoadState restores every stateful layer from the checkpoint map;
// every such layer must have an entry of the matching kind
func (m *Sequential) LoadState(states map[string]LayerState) error {
	for i, l := range m.layers {
		switch layer := l.(type) {
		case *Sequential:
			if err := layer.LoadState(states); err != nil {
				return err
			}
		case *Linear:
			st, ok := states[layer.Name()]
			if !ok {
				return fmt.Errorf("%w: %q", ErrMissingLayerState, layer.Name())
			}
			if st.Kind != KindLinear {
				return fmt.Errorf("%w: %q holds %q", ErrKindMismatch, layer.Name(), st.Kind)
			}
			if err := layer.setState(st.Weight, st.Bias, st.Rows, st.Cols); err != nil {
				return fmt.Errorf("layer %q: %w", layer.Name(), err)
			}
		case *HashLayer:
			st, ok := states[layer.Name()]
			if !ok {
				return fmt.Errorf("%w: %q", ErrMissingLayerState, layer.Name())
			}
			if st.Kind != KindHash {
				return fmt.Errorf("%w: %q holds %q", ErrKindMismatch, layer.Name(), st.Kind)
			}
			hk, err := kernelFromState(st)
			if err != nil {
				return fmt.Errorf("layer %q: %w", layer.Name(), err)
			}
			m.layers[i] = NewHashLayer(layer.Name(), hk)
		}
	}
	return nil
}

func kernelFromState(st LayerState) (*kernel.HashKernel, error) {
	if len(st.Weight) != st.Rows*st.Cols || len(st.Planes) != st.K*st.Cols {
		return nil, ErrShapeMismatch
	}
	proj, err := lsh.ProjectionFromPlanes(vector.NewDense(st.K, st.Cols, st.Planes), st.Learnable)
	if err != nil {
		return nil, err
	}
	return kernel.NewWithProjection(vector.NewDense(st.Rows, st.Cols, st.Weight), st.Bias, proj, st.Clip)
}

// Dump encodes the model state as a byte-array
func (m *Sequential) Dump() ([]byte, error) {
	states, err := m.State()
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	enc := gob.NewEncoder(buf)
	if err := enc.Encode(states); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores the model state from the byte-array
func (m *Sequential) Load(inp []byte) error {
	buf := &bytes.Buffer{}
	buf.Write(inp)
	dec := gob.NewDecoder(buf)
	states := make(map[string]LayerState)
	if err := dec.Decode(&states); err != nil {
		return err
	}
	return m.LoadState(states)
}

// DumpBytesToFile writes byte array to the file
func DumpBytesToFile(inp []byte, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(inp); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return nil
}

// LoadBytesFromFile loads byte array from file
func LoadBytesFromFile(path string) ([]byte, error) {
	buf := &bytes.Buffer{}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(buf, f)
	if err != nil {
		return nil, err
	}
	f.Close()
	return buf.Bytes(), nil
}
