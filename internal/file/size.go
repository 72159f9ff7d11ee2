package file

import (
	"math"
	"strconv"
)

var (
	sizeUnits     = []string{"B", "kB", "MB", "GB", "TB"}
	sizePrecision = []int{0, 0, 2, 2, 3}
)

// ReadableSize formats a byte count using 1024-based units up to TB.
// Bytes and kilobytes are rounded to whole numbers, MB and GB to two
// decimals, TB to three; trailing zeros are dropped.
func ReadableSize(size int64) string {
	if size <= 0 {
		return "0B"
	}

	unit := 0
	div := int64(1)
	for unit < len(sizeUnits)-1 && size >= div*1024 {
		div *= 1024
		unit++
	}

	scale := math.Pow10(sizePrecision[unit])
	v := math.Round(float64(size)/float64(div)*scale) / scale
	return strconv.FormatFloat(v, 'f', -1, 64) + sizeUnits[unit]
}
