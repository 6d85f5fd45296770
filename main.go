package main

import (
	"github.com/cheggaaa/pb/v3"
	"github.com/gasparian/hash-dot-go/bench"
	"github.com/gasparian/hash-dot-go/common"
	"github.com/gasparian/hash-dot-go/model"
	"github.com/gasparian/hash-dot-go/vector"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	IN_DIM     = 64
	HIDDEN_DIM = 128
	OUT_DIM    = 16
	BATCH_SIZE = 256
	K          = 512
	SEED       = 42
)

func main() {
	logger := common.GetNewLogger()

	mlp := model.NewSequential("mlp",
		model.NewRandomLinear("fc1", IN_DIM, HIDDEN_DIM, SEED),
		model.NewReLU("act1"),
		model.NewRandomLinear("fc2", HIDDEN_DIM, OUT_DIM, SEED+1),
	)

	patched, err := model.Patch(mlp, model.PatchConfig{
		Variant: model.RandomProj,
		K:       K,
		Seed:    SEED,
	})
	if err != nil {
		logger.Err.Fatal(err)
	}
	logger.Info.Printf("patched %q with %d-bit hash kernels", mlp.Name(), K)

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(SEED)}
	x := vector.NewDense(BATCH_SIZE, IN_DIM, nil)
	for i := range x.Data {
		x.Data[i] = normal.Rand()
	}

	bar := pb.StartNew(2)
	ref, err := mlp.Forward(x)
	if err != nil {
		logger.Err.Fatal(err)
	}
	bar.Increment()
	approx, err := patched.Forward(x)
	if err != nil {
		logger.Err.Fatal(err)
	}
	bar.Increment()
	bar.Finish()

	relErr, err := bench.RelativeError(ref, approx)
	if err != nil {
		logger.Err.Fatal(err)
	}
	logger.Info.Printf("relative output error right after patching: %.4f", relErr)

	ks := []int{8, 64, 512}
	maes, err := bench.Progression(ks, IN_DIM, 500, SEED, true)
	if err != nil {
		logger.Err.Fatal(err)
	}
	for i, k := range ks {
		logger.Info.Printf("cosine MAE at k=%d: %.4f", k, maes[i])
	}
}
