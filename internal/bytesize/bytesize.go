// Package bytesize converts the portal's human readable sizes ("1.2 TB") to bytes.
package bytesize

import (
	"html"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/goodtune/coxstatus/internal/errs"
)

// The portal reports sizes with decimal unit names but binary magnitudes.
const (
	Byte     int64 = 1
	Kilobyte       = Byte << 10
	Megabyte       = Kilobyte << 10
	Gigabyte       = Megabyte << 10
	Terabyte       = Gigabyte << 10
)

// units maps accepted unit spellings to the IEC name humanize understands.
var units = map[string]string{
	"":      "B",
	"b":     "B",
	"byte":  "B",
	"bytes": "B",
	"k":     "KiB",
	"kb":    "KiB",
	"kib":   "KiB",
	"m":     "MiB",
	"mb":    "MiB",
	"mib":   "MiB",
	"g":     "GiB",
	"gb":    "GiB",
	"gib":   "GiB",
	"t":     "TiB",
	"tb":    "TiB",
	"tib":   "TiB",
}

var sizePattern = regexp.MustCompile(`^([0-9][0-9,]*(?:\.[0-9]+)?|\.[0-9]+)\s*([A-Za-z]*)$`)

// Clean strips the HTML artifacts the portal leaves in rendered values.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "&#160;", " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

// Parse returns the number of bytes described by s.
func Parse(s string) (int64, error) {
	cleaned := Clean(s)
	m := sizePattern.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, errs.Newf(errs.KindParse, "bytesize", "malformed size %q", s)
	}

	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, errs.Newf(errs.KindParse, "bytesize", "unknown unit %q in %q", m[2], s)
	}

	n, err := humanize.ParseBytes(m[1] + " " + unit)
	if err != nil {
		return 0, errs.Wrap(errs.KindParse, "bytesize", "parse "+s, err)
	}
	if n > uint64(1<<63-1) {
		return 0, errs.Newf(errs.KindParse, "bytesize", "size %q overflows", s)
	}
	return int64(n), nil
}

// Gigabytes converts bytes to binary gigabytes.
func Gigabytes(n int64) float64 {
	return float64(n) / float64(Gigabyte)
}

// Format renders n for log output.
func Format(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
