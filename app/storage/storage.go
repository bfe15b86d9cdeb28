// Package storage provides persistence for labeled samples, trained models and detection results.
// Each table is represented by a struct working on top of engine.SQL, so the same code runs on sqlite and postgres.
// All records are scoped by the engine's group id (gid), allowing several independent namespaces in one database.
//
// Trained models can also be saved to and loaded from a standalone json file, see SaveModelFile and LoadModelFile.
package storage

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested record doesn't exist
var ErrNotFound = errors.New("not found")

const maxLogMsgLen = 1024

// shorten cuts long message for logging
func shorten(msg string) string {
	if len(msg) <= maxLogMsgLen {
		return msg
	}
	return strings.ToValidUTF8(msg[:maxLogMsgLen], "") + "..."
}
