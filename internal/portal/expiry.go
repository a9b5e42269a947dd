package portal

import (
	"bytes"
	"net/http"

	"github.com/samber/lo"
)

// ExpiryPredicate reports whether a response means the session has expired.
type ExpiryPredicate func(status int, body []byte) bool

// MarkerPredicate treats 401 as expiry, as well as any body containing one of
// markers. The portal answers expired sessions with a 200 sign-in page.
func MarkerPredicate(markers []string) ExpiryPredicate {
	needles := lo.FilterMap(markers, func(m string, _ int) ([]byte, bool) {
		return []byte(m), m != ""
	})
	return func(status int, body []byte) bool {
		if status == http.StatusUnauthorized {
			return true
		}
		return lo.ContainsBy(needles, func(needle []byte) bool {
			return bytes.Contains(body, needle)
		})
	}
}
