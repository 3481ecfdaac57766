package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the uniform response body. Result is either a primitive
// string acknowledgment or a typed payload (file names, ACLs, one ACL, or
// an AuthAnswer). Version is the running agent's semantic version and is
// present on every response, success or error.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result"`
	Version string `json:"version"`
}

// Responder writes envelopes stamped with the agent version.
type Responder struct {
	Version string
	Log     *slog.Logger
}

// OK writes a success envelope.
func (rp *Responder) OK(w http.ResponseWriter, message string, result any) {
	rp.write(w, http.StatusOK, Envelope{
		Status:  "success",
		Message: message,
		Result:  result,
		Version: rp.Version,
	})
}

// Error writes an error envelope. Every error kind maps to HTTP 400; the
// decision to flatten status codes is part of the agent's wire contract.
func (rp *Responder) Error(w http.ResponseWriter, err error) {
	rp.Log.Info("request failed", "error", err)
	rp.write(w, http.StatusBadRequest, Envelope{
		Status:  "error",
		Message: err.Error(),
		Result:  "none",
		Version: rp.Version,
	})
}

func (rp *Responder) write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		rp.Log.Error("writing response envelope", "error", err)
	}
}
