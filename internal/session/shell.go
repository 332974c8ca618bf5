package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const markerPrefix = "__SHELLGATE_DONE_"

// newMarker returns a fresh completion token and the byte sequence that
// announces it in stdout.
func newMarker() (token string, match []byte) {
	token = markerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	return token, []byte("\n" + token + ":")
}

// markerCommand is the POSIX shell line that prints the token and the exit
// status of the command before it.
func markerCommand(token string) string {
	return fmt.Sprintf("__sg_rc=$?; printf '\\n%%s:%%d\\n' '%s' \"$__sg_rc\"\n", token)
}
