package httpapi

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform JSON shape used for every JSON response other than
// the status endpoint's (successful downloads stream raw bytes instead),
// grounded on the server's {status, result, reason} response wrapper.
type Envelope struct {
	Status int         `json:"status"`
	Result interface{} `json:"result"`
	Reason *string     `json:"reason"`
}

func reasonString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// writeEnvelope writes an Envelope as the HTTP response body with a matching
// status code and application/json content type.
func writeEnvelope(w http.ResponseWriter, status int, result interface{}, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Status: status,
		Result: result,
		Reason: reasonString(reason),
	})
}

func writeOK(w http.ResponseWriter, result interface{}) {
	writeEnvelope(w, http.StatusOK, result, "")
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeEnvelope(w, status, nil, reason)
}
