package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/agentsh/shellgate/pkg/types"
)

// decodeGatewayRequest reads and decodes a gateway POST body, writing the
// client error itself when decoding fails.
func decodeGatewayRequest(w http.ResponseWriter, r *http.Request) (types.GatewayRequest, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return nil, false
	}
	req, err := types.DecodeGatewayRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return req, true
}
