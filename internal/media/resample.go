package media

// resampleLinear resamples mono float32 PCM from sourceRate to targetRate
// using linear interpolation. Good enough for feeding a 16kHz recognizer
// from arbitrary source material; not broadcast-quality resampling.
func resampleLinear(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate == targetRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen <= 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		out[i] = samples[idx]*float32(1-frac) + samples[idx+1]*float32(frac)
	}

	return out
}
