package util

import "runtime"

// NextPow2 returns the smallest power of two >= x.
// x == 0 yields 1; overflow clamps to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ReasonablePartitionCount picks a default lock-partition count:
// nextPow2(2*GOMAXPROCS), clamped to [1..256].
func ReasonablePartitionCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n > 256 {
		n = 256
	}
	return n
}

// PartitionIndex maps a hash to a partition. n must be a power of two.
func PartitionIndex(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	return int(hash & uint64(n-1))
}
