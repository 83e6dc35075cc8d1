package ids

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	reInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
	reDashes  = regexp.MustCompile(`-+`)
	reRunID   = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}Z-[0-9a-f]{6}$`)
)

// NewRunID returns YYYYMMDD-HHMMSSZ-<hex6>.
func NewRunID(now time.Time) (string, error) {
	prefix := now.UTC().Format("20060102-150405Z")

	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return prefix + "-" + hex.EncodeToString(b[:]), nil
}

func IsValidRunID(s string) bool {
	return reRunID.MatchString(strings.TrimSpace(s))
}

// NewTableName returns a random v4 UUID used verbatim as a quoted table identifier.
// Scenarios share one database, so isolation relies on these never colliding.
func NewTableName() string {
	return uuid.NewString()
}

// IsTableName reports whether s is a canonical UUID string.
func IsTableName(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.String() == s
}

// QuoteIdent wraps a table name in double quotes, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func SanitizeComponent(s string) string {
	// lower + [a-z0-9-], collapse dashes.
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "_", "-")
	v = reInvalid.ReplaceAllString(v, "-")
	v = reDashes.ReplaceAllString(v, "-")
	v = strings.Trim(v, "-")
	return v
}

// ScenarioID joins matrix coordinates into a stable id such as "terminal-tty-csv".
func ScenarioID(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := SanitizeComponent(p); c != "" {
			clean = append(clean, c)
		}
	}
	return strings.Join(clean, "-")
}
