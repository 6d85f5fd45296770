package model

import (
	"errors"
	"fmt"

	"github.com/gasparian/hash-dot-go/kernel"
	guuid "github.com/google/uuid"
)

var (
	// ErrInvalidConfig is returned for a malformed patch config
	ErrInvalidConfig = errors.New("patch config is invalid")
	// ErrNoLayersMatched is returned when the selector accepts no linear layer,
	// since a patch that changes nothing almost always means a misconfiguration
	ErrNoLayersMatched = errors.New("layer selector matched no linear layers")
)

// Variant picks between the frozen and the trainable projection source
type Variant int

const (
	// RandomProj freezes the projection after the initial draw
	RandomProj Variant = iota
	// LearnedProj leaves the projection trainable
	LearnedProj
)

// Selector decides whether a given linear layer gets replaced
type Selector func(l *Linear) bool

// PatchConfig holds the kernel options applied to every matched layer
type PatchConfig struct {
	Variant Variant
	K       int
	// Clip is forwarded to the kernels: 0 picks the default window, negative disables it
	Clip float64
	Seed uint64
	// Selector may be nil, which matches every linear layer
	Selector Selector
}

// Patch walks the model tree and returns a structurally identical copy in
// which every matched linear layer is superseded by a hash kernel seeded
// from copies of the layer's weights and bias. The input model is left
// untouched; unmatched layers are carried over as-is.
func Patch(m *Sequential, cfg PatchConfig) (*Sequential, error) {
	if cfg.K < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidConfig, cfg.K)
	}
	replaced := 0
	patched, err := patchSequential(m, cfg, &replaced)
	if err != nil {
		return nil, err
	}
	if replaced == 0 {
		return nil, ErrNoLayersMatched
	}
	return patched, nil
}

func patchSequential(m *Sequential, cfg PatchConfig, replaced *int) (*Sequential, error) {
	layers := make([]Layer, 0, len(m.layers))
	for _, l := range m.layers {
		switch layer := l.(type) {
		case *Sequential:
			sub, err := patchSequential(layer, cfg, replaced)
			if err != nil {
				return nil, err
			}
			layers = append(layers, sub)
		case *Linear:
			if cfg.Selector != nil && !cfg.Selector(layer) {
				layers = append(layers, layer)
				continue
			}
			hl, err := replaceLinear(layer, cfg, *replaced)
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", layer.Name(), err)
			}
			layers = append(layers, hl)
			*replaced++
		default:
			layers = append(layers, layer)
		}
	}
	return NewSequential(m.name, layers...), nil
}

func replaceLinear(l *Linear, cfg PatchConfig, idx int) (*HashLayer, error) {
	hk, err := kernel.New(l.Weight(), l.Bias(), kernel.Config{
		K:         cfg.K,
		Learnable: cfg.Variant == LearnedProj,
		// distinct planes per layer, still reproducible from one seed
		Seed: cfg.Seed + uint64(idx),
		Clip: cfg.Clip,
	})
	if err != nil {
		return nil, err
	}
	name := l.Name()
	if name == "" {
		name = "hash-" + guuid.NewString()
	}
	return NewHashLayer(name, hk), nil
}
