package receipt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const prefix = "REC"

// New returns a receipt number of the form REC-<unix-millis>-<6 hex>.
// The random suffix keeps concurrent terminals from colliding inside
// the same millisecond; the sales table's unique constraint is still
// the final arbiter.
func New() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Valid reports whether s looks like a receipt number this system issued.
func Valid(s string) bool {
	return strings.HasPrefix(s, prefix+"-") && len(s) > len(prefix)+1
}
