// Package hotspot groups report locations into density clusters for display.
//
// The clustering is greedy single-link agglomeration around a moving centroid.
// It is approximate and depends on seed order: when two dense areas sit just
// over one radius apart, which one absorbs the border points depends on which
// seed is processed first. To make the output reproducible the points are
// sorted geographically (latitude, then longitude) before seeding, so the same
// set of points always yields the same clusters regardless of input order.
package hotspot

import (
	"sort"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// Cluster is a group of nearby points summarized by its arithmetic-mean centroid
type Cluster struct {
	Centroid geo.Point `json:"centroid"`
	Count    int       `json:"count"`
}

// FindClusters partitions points into clusters whose members lie within
// radiusMeters of the cluster centroid. Every input point lands in exactly one
// cluster. Worst case is O(n^2 * k) for k convergence passes per cluster.
func FindClusters(points []geo.Point, radiusMeters float64) []Cluster {
	if len(points) == 0 {
		return nil
	}

	// The working set is an arena of unclustered points; removal is swap-remove.
	work := make([]geo.Point, len(points))
	copy(work, points)
	sort.SliceStable(work, func(i, j int) bool {
		if work[i].Latitude != work[j].Latitude {
			return work[i].Latitude < work[j].Latitude
		}
		return work[i].Longitude < work[j].Longitude
	})

	var clusters []Cluster
	for len(work) > 0 {
		// Seed with the last point of the arena
		seed := work[len(work)-1]
		work = work[:len(work)-1]

		sumLat, sumLon := seed.Latitude, seed.Longitude
		count := 1

		for {
			centroid := geo.Point{Latitude: sumLat / float64(count), Longitude: sumLon / float64(count)}
			absorbed := 0
			for i := 0; i < len(work); {
				if geo.Distance(work[i], centroid) > radiusMeters {
					i++
					continue
				}
				sumLat += work[i].Latitude
				sumLon += work[i].Longitude
				count++
				absorbed++

				last := len(work) - 1
				work[i] = work[last]
				work = work[:last]
			}
			if absorbed == 0 {
				break
			}
		}

		clusters = append(clusters, Cluster{
			Centroid: geo.Point{Latitude: sumLat / float64(count), Longitude: sumLon / float64(count)},
			Count:    count,
		})
	}

	return clusters
}
