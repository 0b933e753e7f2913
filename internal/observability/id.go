package observability

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewCorrelationID returns a new identifier for one order's lifecycle,
// from router acceptance through fill or rejection.
func NewCorrelationID() string { return newID("corr") }

// NewExecutionGroupID returns a new identifier spanning every leg of one
// multi-leg entry, exit, adjustment, or morph.
func NewExecutionGroupID() string { return newID("exec") }

// NewRollbackTag returns a correlation id for the rollback order placed
// against an already-filled leg, derived from the leg's own tag.
func NewRollbackTag(originalTag string) string { return "ROLLBACK-" + originalTag }

func newID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unreachable on any supported
		// platform; fall back to a clock-derived suffix rather than panic.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
