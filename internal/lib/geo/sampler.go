package geo

// sampleEpsilonMeters is the slack under which a generated sample is treated
// as landing on the final vertex.
const sampleEpsilonMeters = 1e-3

// Resample walks the polyline and emits points spaced spacingMeters apart
// along its arc length, independent of how densely the input is vertexed.
//
// The output always starts with the first vertex and ends with the last one;
// the final gap may be shorter than spacingMeters. Inputs with fewer than two
// points, or a non-positive spacing, are returned unchanged (as a copy).
func Resample(points []Point, spacingMeters float64) []Point {
	if len(points) < 2 || spacingMeters <= 0 {
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}

	total := PolylineLength(points)
	out := make([]Point, 0, int(total/spacingMeters)+2)
	out = append(out, points[0])

	// carry is the length walked since the last emitted sample
	carry := 0.0
	for i := 1; i < len(points); i++ {
		start, end := points[i-1], points[i]
		segLen := Distance(start, end)
		if segLen == 0 {
			continue
		}

		consumed := 0.0
		for carry+(segLen-consumed) >= spacingMeters {
			consumed += spacingMeters - carry
			out = append(out, Interpolate(start, end, consumed/segLen))
			carry = 0
		}
		carry += segLen - consumed
	}

	last := points[len(points)-1]
	switch {
	case len(out) == 1:
		out = append(out, last)
	case Distance(out[len(out)-1], last) <= sampleEpsilonMeters:
		out[len(out)-1] = last
	default:
		out = append(out, last)
	}

	return out
}
