package alloc

// smallSizeClasses are the six size classes SmallPool serves, smallest
// first. Index into this slice is the "class" used throughout sbp.go.
var smallSizeClasses = [...]int32{16, 32, 64, 128, 256, 512}

const (
	numSmallClasses = len(smallSizeClasses)
	smallMinBytes   = 1
	smallMaxBytes   = 512
)

// classOfTable is a dense 513-entry lookup table mapping any small
// request size (0..=512) to its size class index in O(1), trading a
// little rodata for a branchless hot path. Built once in init(), the
// same trade the teacher's sizeClassTable.getSizeClass documents for a
// binary search — here the domain is small and fixed enough that a
// flat table beats even a log-time search.
var classOfTable [smallMaxBytes + 1]uint8

func init() {
	cls := 0
	for n := 1; n <= smallMaxBytes; n++ {
		for smallSizeClasses[cls] < int32(n) {
			cls++
		}
		classOfTable[n] = uint8(cls)
	}
}

// classOf returns the size class index for a small request of n bytes.
// The caller must ensure 1 <= n <= smallMaxBytes.
func classOf(n int) int {
	return int(classOfTable[n])
}
