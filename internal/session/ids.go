package session

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idAlphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixLength = 10
)

// newSessionID returns session_<unixms>_<suffix>. The suffix carries the
// uniqueness; the timestamp only makes ids sortable by creation.
func newSessionID(now time.Time) (string, error) {
	suffix, err := gonanoid.Generate(idAlphabet, idSuffixLength)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix), nil
}
