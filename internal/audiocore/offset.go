package audiocore

// ResolveReadSample decides where the next read starts.
//
// A cursor with no prior read, or one the writer has lapped by at least
// totalSegments segments, jumps to the current write position. Otherwise the
// read continues at next so consecutive pulls stay contiguous.
func ResolveReadSample(next, writeSegments, samplesPerSegment, totalSegments uint64) uint64 {
	writeSample := writeSegments * samplesPerSegment
	if next == NoSample || samplesPerSegment == 0 {
		return writeSample
	}

	readSegment := next / samplesPerSegment
	if writeSegments > readSegment && writeSegments-readSegment >= totalSegments {
		return writeSample
	}
	return next
}
