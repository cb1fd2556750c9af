package httpx

import (
	"net/http"

	"github.com/meridianhq/meridian/internal/shared"
)

// RespondError maps domain errors onto the response envelope. Entitlement
// denials keep their structured details so the edge can render an upsell
// instead of a generic forbidden message.
func RespondError(w http.ResponseWriter, err error) {
	ae, ok := shared.AsAppError(err)
	if !ok {
		Fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case shared.KindValidation:
		status = http.StatusBadRequest
	case shared.KindAuthorization:
		status = http.StatusForbidden
	case shared.KindNotFound:
		status = http.StatusNotFound
	case shared.KindConflict:
		status = http.StatusConflict
	case shared.KindEntitlement:
		status = http.StatusForbidden
	}
	writeJSON(w, status, Envelope{Success: false, Message: ae.Reason, Details: ae.Details})
}
