package index

import (
	"context"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/vecdb/pkg/vector"
)

// kmeansPlusPlusSeed picks k initial centroids from vectors using the
// k-means++ scheme: the first centroid is uniform-random, each subsequent
// one is sampled with probability proportional to its squared distance to
// the nearest already-chosen centroid. This spreads the initial centroids
// out and converges faster and more reliably than picking k random points.
func kmeansPlusPlusSeed(vectors [][]float64, k int, metric vector.Metric, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, vector.Copy(vectors[rng.Intn(n)]))

	minDistSq := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d, _ := vector.Distance(metric, v, centroids[len(centroids)-1])
			dsq := d * d
			if len(centroids) == 1 || dsq < minDistSq[i] {
				minDistSq[i] = dsq
			}
			total += minDistSq[i]
		}
		if total == 0 {
			// All remaining points coincide with a chosen centroid; pick
			// arbitrarily rather than loop forever.
			centroids = append(centroids, vector.Copy(vectors[rng.Intn(n)]))
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i := range vectors {
			cum += minDistSq[i]
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, vector.Copy(vectors[chosen]))
	}
	return centroids
}

// clusterAccumulator holds the running sum and count of vectors assigned to
// one cluster, used as a per-worker scratch buffer during parallel Lloyd
// iterations so workers never contend on a shared accumulator.
type clusterAccumulator struct {
	sums   [][]float64
	counts []int
}

func newClusterAccumulator(k, dim int) *clusterAccumulator {
	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	return &clusterAccumulator{sums: sums, counts: make([]int, k)}
}

func (a *clusterAccumulator) add(cluster int, vec []float64) {
	a.counts[cluster]++
	sum := a.sums[cluster]
	for i, x := range vec {
		sum[i] += x
	}
}

func (a *clusterAccumulator) merge(other *clusterAccumulator) {
	for c := range a.sums {
		a.counts[c] += other.counts[c]
		for i := range a.sums[c] {
			a.sums[c][i] += other.sums[c][i]
		}
	}
}

func nearestCentroid(vec []float64, centroids [][]float64, metric vector.Metric) (int, float64) {
	best, bestDist := -1, 0.0
	for i, c := range centroids {
		d, _ := vector.Distance(metric, vec, c)
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// lloyd runs Lloyd's algorithm starting from the given initial centroids,
// parallelizing the assignment step across GOMAXPROCS workers using an
// errgroup. Each worker accumulates sums/counts into its own
// clusterAccumulator; the accumulators are merged sequentially after
// g.Wait(), so there is no shared mutable state during the parallel phase.
func lloyd(vectors [][]float64, initial [][]float64, maxIter int, convThreshold float64, metric vector.Metric, rng *rand.Rand) ([][]float64, []int) {
	k := len(initial)
	dim := len(vectors[0])
	centroids := make([][]float64, k)
	for i, c := range initial {
		centroids[i] = vector.Copy(c)
	}

	assignments := make([]int, len(vectors))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(vectors) {
		workers = 1
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (len(vectors) + workers - 1) / workers

	for iter := 0; iter < maxIter; iter++ {
		g, _ := errgroup.WithContext(context.Background())
		g.SetLimit(workers)

		accs := make([]*clusterAccumulator, workers)
		for w := 0; w < workers; w++ {
			w := w
			start := w * chunk
			end := start + chunk
			if start >= len(vectors) {
				continue
			}
			if end > len(vectors) {
				end = len(vectors)
			}
			acc := newClusterAccumulator(k, dim)
			accs[w] = acc
			g.Go(func() error {
				for i := start; i < end; i++ {
					cluster, _ := nearestCentroid(vectors[i], centroids, metric)
					assignments[i] = cluster
					acc.add(cluster, vectors[i])
				}
				return nil
			})
		}
		_ = g.Wait()

		total := newClusterAccumulator(k, dim)
		for _, acc := range accs {
			if acc != nil {
				total.merge(acc)
			}
		}

		var movement float64
		for c := 0; c < k; c++ {
			if total.counts[c] == 0 {
				// Empty cluster: reseed it from a random training vector so
				// it can recover on the next iteration instead of sitting
				// dead forever.
				centroids[c] = vector.Copy(vectors[rng.Intn(len(vectors))])
				continue
			}
			newCentroid := make([]float64, dim)
			for i := range newCentroid {
				newCentroid[i] = total.sums[c][i] / float64(total.counts[c])
			}
			d, _ := vector.Distance(metric, centroids[c], newCentroid)
			movement += d
			centroids[c] = newCentroid
		}

		if movement < convThreshold {
			break
		}
	}

	return centroids, assignments
}
