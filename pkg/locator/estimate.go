package locator

// probeOffset chooses the next probe offset inside the window [low, high).
// When the keys bounding the window are known, the target key's position
// between them is interpolated and mapped onto the byte window; a plain
// midpoint is used otherwise. Interpolation beats the midpoint when byte
// position correlates with key distribution, which it does for contiguous
// sorted records of comparable size.
//
// This is a pure function of its arguments so its convergence behavior can
// be tested against reference bisection without any I/O.
func probeOffset(low, high int64, lowKey, highKey, target []byte) int64 {
	if high <= low {
		return low
	}

	window := high - low
	mid := low + window/2
	if lowKey == nil || highKey == nil {
		return mid
	}

	f, ok := keyFraction(lowKey, highKey, target)
	if !ok {
		return mid
	}

	candidate := low + int64(f*float64(window))
	if candidate < low {
		candidate = low
	}
	if candidate >= high {
		candidate = high - 1
	}
	return candidate
}

// keyFraction estimates where target falls between lowKey and highKey as a
// fraction in [0, 1]. The shared prefix of the bounding keys carries no
// information, so it is skipped before the comparison window is read.
func keyFraction(lowKey, highKey, target []byte) (float64, bool) {
	skip := 0
	for skip < len(lowKey) && skip < len(highKey) && lowKey[skip] == highKey[skip] {
		skip++
	}

	lo := keyValue(lowKey, skip)
	hi := keyValue(highKey, skip)
	if hi <= lo {
		return 0, false
	}

	tg := keyValue(target, skip)
	if tg <= lo {
		return 0, true
	}
	if tg >= hi {
		return 1, true
	}
	return float64(tg-lo) / float64(hi-lo), true
}

// keyValue reads up to eight key bytes after skip as a big-endian integer,
// zero-padded past the end of the key.
func keyValue(key []byte, skip int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v <<= 8
		if skip+i < len(key) {
			v |= uint64(key[skip+i])
		}
	}
	return v
}
