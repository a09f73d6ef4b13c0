// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"flag"
	"fmt"
	"io"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Model is the output of the clustering stage: the rank-k
// factorization of the feature matrix plus the per-patient cluster
// assignment derived from it. Basis is gene-major (gene × cluster),
// Mixture is cluster-major (cluster × patient). Retained marks
// patients whose silhouette width met the confidence threshold;
// Labels are assigned for every patient regardless.
type Model struct {
	Rank       int
	GeneIDs    []string
	PatientIDs []string
	Basis      []float64
	Mixture    []float64
	Silhouette []float64
	Labels     []string
	Retained   []bool
}

func (m *Model) Check() error {
	ng, np := len(m.GeneIDs), len(m.PatientIDs)
	if len(m.Basis) != ng*m.Rank {
		return fmt.Errorf("basis matrix has %d entries, want %d genes × rank %d", len(m.Basis), ng, m.Rank)
	}
	if len(m.Mixture) != m.Rank*np {
		return fmt.Errorf("mixture matrix has %d entries, want rank %d × %d patients", len(m.Mixture), m.Rank, np)
	}
	if len(m.Silhouette) != np || len(m.Labels) != np || len(m.Retained) != np {
		return fmt.Errorf("per-patient columns disagree with %d patients", np)
	}
	return nil
}

// MixtureColumn returns patient p's cluster coefficient vector.
func (m *Model) MixtureColumn(p int) []float64 {
	np := len(m.PatientIDs)
	col := make([]float64, m.Rank)
	for k := 0; k < m.Rank; k++ {
		col[k] = m.Mixture[k*np+p]
	}
	return col
}

const nmfEps = 1e-12

// factorize runs multiplicative-update NMF (Frobenius objective) for
// the given number of iterations from one random initialization, and
// returns W (m×r), H (r×n) and the final residual norm.
func factorize(v *mat.Dense, rank, iters int, rng *rand.Rand) (*mat.Dense, *mat.Dense, float64) {
	m, n := v.Dims()
	scale := math.Sqrt(mat.Sum(v)/float64(m*n*rank)) + nmfEps
	w := mat.NewDense(m, rank, nil)
	h := mat.NewDense(rank, n, nil)
	for i := range w.RawMatrix().Data {
		w.RawMatrix().Data[i] = scale * (rng.Float64() + nmfEps)
	}
	for i := range h.RawMatrix().Data {
		h.RawMatrix().Data[i] = scale * (rng.Float64() + nmfEps)
	}

	var wtv, wtw, hden, vht, hht, wden mat.Dense
	for it := 0; it < iters; it++ {
		// H <- H ∘ WᵀV / (WᵀW)H
		wtv.Mul(w.T(), v)
		wtw.Mul(w.T(), w)
		hden.Mul(&wtw, h)
		hd := h.RawMatrix().Data
		num := wtv.RawMatrix().Data
		den := hden.RawMatrix().Data
		for i := range hd {
			hd[i] *= num[i] / (den[i] + nmfEps)
		}
		// W <- W ∘ VHᵀ / W(HHᵀ)
		vht.Mul(v, h.T())
		hht.Mul(h, h.T())
		wden.Mul(w, &hht)
		wd := w.RawMatrix().Data
		num = vht.RawMatrix().Data
		den = wden.RawMatrix().Data
		for i := range wd {
			wd[i] *= num[i] / (den[i] + nmfEps)
		}
	}

	var resid mat.Dense
	resid.Mul(w, h)
	resid.Sub(v, &resid)
	return w, h, mat.Norm(&resid, 2)
}

// bestFactorization runs restarts independent factorizations and
// keeps the one with the lowest residual. Restarts run concurrently;
// each has its own deterministic RNG stream derived from seed.
func bestFactorization(v *mat.Dense, rank, iters, restarts int, seed uint64, threads int) (*mat.Dense, *mat.Dense, float64) {
	type result struct {
		w, h *mat.Dense
		obj  float64
	}
	results := make([]result, restarts)
	var mtx throttle
	mtx.Max = threads
	for i := 0; i < restarts; i++ {
		i := i
		mtx.Go(func() error {
			rng := rand.New(rand.NewSource(seed + uint64(i)))
			w, h, obj := factorize(v, rank, iters, rng)
			results[i] = result{w, h, obj}
			return nil
		})
	}
	mtx.Wait()
	best := 0
	for i, r := range results {
		if r.obj < results[best].obj {
			best = i
		}
	}
	return results[best].w, results[best].h, results[best].obj
}

// retainBySilhouette marks patients whose silhouette width meets the
// threshold; exactly min counts as meeting it.
func retainBySilhouette(sil []float64, min float64) []bool {
	out := make([]bool, len(sil))
	for i, s := range sil {
		out[i] = s >= min
	}
	return out
}

type nmfcmd struct {
	inputFile     string
	outputFile    string
	rank          int
	restarts      int
	iters         int
	seed          int64
	threads       int
	minSilhouette float64
}

func (cmd *nmfcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "-", "input `file`")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	flags.IntVar(&cmd.rank, "rank", 4, "number of clusters")
	flags.IntVar(&cmd.restarts, "restarts", 100, "random restarts")
	flags.IntVar(&cmd.iters, "iters", 200, "multiplicative update iterations per restart")
	flags.Int64Var(&cmd.seed, "seed", 1, "RNG seed")
	flags.IntVar(&cmd.threads, "threads", 8, "max concurrent restarts")
	flags.Float64Var(&cmd.minSilhouette, "min-silhouette", 0.3, "drop patients with silhouette width below `S`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.rank < 2 {
		fmt.Fprintln(stderr, "-rank must be at least 2")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	input, gz, err := openInput(cmd.inputFile, stdin)
	if err != nil {
		return 1
	}
	defer input.Close()
	var ft Features
	err = readGob(input, gz, &ft)
	if err != nil {
		return 1
	}
	input.Close()
	err = ft.Check()
	if err != nil {
		return 1
	}

	ng, np := len(ft.GeneIDs), len(ft.PatientIDs)
	log.Infof("factorizing %d genes × %d patients, rank %d, %d restarts", ng, np, cmd.rank, cmd.restarts)
	v := mat.NewDense(ng, np, append([]float64(nil), ft.Values...))
	w, h, obj := bestFactorization(v, cmd.rank, cmd.iters, cmd.restarts, uint64(cmd.seed), cmd.threads)
	log.Infof("best residual norm %.4g", obj)

	model := &Model{
		Rank:       cmd.rank,
		GeneIDs:    ft.GeneIDs,
		PatientIDs: ft.PatientIDs,
		Basis:      append([]float64(nil), w.RawMatrix().Data...),
		Mixture:    append([]float64(nil), h.RawMatrix().Data...),
	}
	coords := make([][]float64, np)
	clusters := make([]int, np)
	for p := 0; p < np; p++ {
		coords[p] = model.MixtureColumn(p)
		clusters[p] = argmaxCluster(coords[p])
	}
	model.Silhouette = silhouetteWidths(coords, clusters, cmd.rank)
	model.Labels = make([]string, np)
	for p := 0; p < np; p++ {
		model.Labels[p] = clusterName(clusters[p])
	}
	model.Retained = retainBySilhouette(model.Silhouette, cmd.minSilhouette)
	retained := 0
	for _, r := range model.Retained {
		if r {
			retained++
		}
	}
	log.Infof("silhouette ≥ %g: %d of %d patients retained", cmd.minSilhouette, retained, np)
	err = model.Check()
	if err != nil {
		return 1
	}

	output, gz, err := openOutput(cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	err = writeGob(output, gz, model)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
