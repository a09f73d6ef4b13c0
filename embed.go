// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/layout"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// embedcmd builds a k-nearest-neighbour graph over the mixture
// coefficients of silhouette-retained patients and lays it out in two
// dimensions. The embedding is for visual inspection only; nothing
// downstream reads it.
type embedcmd struct {
	inputFile  string
	outputFile string
	plotFile   string
	method     string
	neighbors  int
	seed       int64
}

func (cmd *embedcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "-", "input `file` (nmf output)")
	flags.StringVar(&cmd.outputFile, "o", "embedding.npy", "output numpy `file`")
	flags.StringVar(&cmd.plotFile, "plot", "", "scatter plot `file` (e.g., './clusters.png')")
	flags.StringVar(&cmd.method, "method", "graph", "layout method (graph or pca)")
	flags.IntVar(&cmd.neighbors, "k", 4, "neighbours per patient in the kNN graph")
	flags.Int64Var(&cmd.seed, "seed", 1, "RNG seed for the force-directed layout")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	input, gz, err := openInput(cmd.inputFile, stdin)
	if err != nil {
		return 1
	}
	defer input.Close()
	var model Model
	err = readGob(input, gz, &model)
	if err != nil {
		return 1
	}
	input.Close()
	err = model.Check()
	if err != nil {
		return 1
	}

	var coords [][]float64
	var labels []string
	for p := range model.PatientIDs {
		if model.Retained[p] {
			coords = append(coords, model.MixtureColumn(p))
			labels = append(labels, model.Labels[p])
		}
	}
	if len(coords) < 2 {
		err = fmt.Errorf("fewer than 2 retained patients, nothing to embed")
		return 1
	}
	log.Infof("embedding %d retained patients, method %s", len(coords), cmd.method)

	var xy [][2]float64
	switch cmd.method {
	case "pca":
		xy, err = pcaEmbedding(coords, model.Rank)
	case "graph":
		xy, err = graphEmbedding(coords, cmd.neighbors, uint64(cmd.seed))
	default:
		err = fmt.Errorf("unknown method %q", cmd.method)
		return 2
	}
	if err != nil {
		return 1
	}

	err = writeEmbeddingNpy(cmd.outputFile, xy)
	if err != nil {
		return 1
	}
	if cmd.plotFile != "" {
		err = plotEmbedding(cmd.plotFile, xy, labels)
		if err != nil {
			return 1
		}
	}
	fmt.Fprintln(stdout, cmd.outputFile)
	return 0
}

// pcaEmbedding projects the mixture columns onto their first two
// principal components.
func pcaEmbedding(coords [][]float64, rank int) ([][2]float64, error) {
	n := len(coords)
	data := make([]float64, rank*n)
	for p, col := range coords {
		for k, v := range col {
			data[k*n+p] = v
		}
	}
	mtx := mat.NewDense(rank, n, data)
	transformer := nlp.NewPCA(2)
	transformer.Fit(mtx)
	projected, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	xy := make([][2]float64, n)
	for p := 0; p < n; p++ {
		xy[p] = [2]float64{projected.At(0, p), projected.At(1, p)}
	}
	return xy, nil
}

// graphEmbedding runs a force-directed layout over the kNN graph.
func graphEmbedding(coords [][]float64, k int, seed uint64) ([][2]float64, error) {
	n := len(coords)
	if k > n-1 {
		k = n - 1
	}
	g := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < n; i++ {
		for _, j := range nearestNeighbors(coords, i, k) {
			g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
		}
	}
	eades := layout.EadesR2{Repulsion: 1, Rate: 0.05, Updates: 100, Theta: 0.2, Src: rand.NewSource(seed)}
	optimizer := layout.NewOptimizerR2(g, eades.Update)
	for optimizer.Update() {
	}
	xy := make([][2]float64, n)
	for i := 0; i < n; i++ {
		v := optimizer.Coord2(int64(i))
		xy[i] = [2]float64{v.X, v.Y}
	}
	return xy, nil
}

// nearestNeighbors returns the indices of the k points closest to
// point i (excluding i itself).
func nearestNeighbors(coords [][]float64, i, k int) []int {
	type cand struct {
		j int
		d float64
	}
	cands := make([]cand, 0, len(coords)-1)
	for j := range coords {
		if j == i {
			continue
		}
		cands = append(cands, cand{j, floats.Distance(coords[i], coords[j], 2)})
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
	out := make([]int, 0, k)
	for _, c := range cands[:k] {
		out = append(out, c.j)
	}
	return out
}

func writeEmbeddingNpy(filename string, xy [][2]float64) error {
	output, _, err := openOutput(filename, nil)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{len(xy), 2}
	flat := make([]float64, 0, len(xy)*2)
	for _, p := range xy {
		flat = append(flat, p[0], p[1])
	}
	err = npw.WriteFloat64(flat)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func plotEmbedding(filename string, xy [][2]float64, labels []string) error {
	p := plot.New()
	p.Title.Text = "NMF clusters"
	p.X.Label.Text = "dim 1"
	p.Y.Label.Text = "dim 2"
	byLabel := map[string]plotter.XYs{}
	var order []string
	for i, l := range labels {
		if _, ok := byLabel[l]; !ok {
			order = append(order, l)
		}
		byLabel[l] = append(byLabel[l], plotter.XY{X: xy[i][0], Y: xy[i][1]})
	}
	sort.Strings(order)
	for ci, l := range order {
		sc, err := plotter.NewScatter(byLabel[l])
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = plotutil.Color(ci)
		p.Add(sc)
		p.Legend.Add(l, sc)
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, filename)
}
