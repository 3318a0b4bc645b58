// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"net/http"
)

// Envelope status ids.
const (
	StatusSuccess        = 0
	StatusPlayerNotFound = -130
	StatusInternal       = -1
)

// LoginTimeLayout formats login_time in login responses.
const LoginTimeLayout = "2006-01-02T15:04:05-07:00"

var statusMessages = map[int]string{
	StatusSuccess:        "Successful completion",
	StatusPlayerNotFound: "The player doesn't exist",
	StatusInternal:       "Internal server error",
}

// Status is the result block of every envelope.
type Status struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// Envelope wraps every session endpoint response.
type Envelope struct {
	Status   Status `json:"status"`
	Response any    `json:"response"`
}

// LoginData is one entry of a successful login response.
type LoginData struct {
	IPAddress  string `json:"ip_address"`
	LoginTime  string `json:"login_time"`
	Platform   string `json:"platform"`
	PlayerID   int64  `json:"player_id"`
	PlayerName string `json:"player_name"`
	Presence   string `json:"presence"`
}

type empty struct{}

func newEnvelope(id int, response any) Envelope {
	if response == nil {
		response = empty{}
	}
	return Envelope{Status: Status{ID: id, Message: statusMessages[id]}, Response: response}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, id int, response any) {
	code := http.StatusOK
	if id == StatusInternal {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, newEnvelope(id, response))
}
