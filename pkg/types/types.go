// Package types defines the wire-level data types shared across the Lektio
// lesson runtime: transcript messages, roles, and lesson addressing keys.
//
// These types are deliberately free of behaviour beyond identity helpers so
// that every layer (step engine, transcript store, content store, realtime
// subscriber) can exchange them without import cycles.
package types

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a transcript message.
type Role string

const (
	// RoleUser marks messages authored by the learner.
	RoleUser Role = "user"

	// RoleModel marks messages authored by the lesson runtime on behalf of
	// the tutor persona.
	RoleModel Role = "model"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleModel
}

// OptimisticIDPrefix is the prefix carried by locally generated message
// identifiers. A message whose ID starts with this prefix has not yet been
// confirmed by the content store.
const OptimisticIDPrefix = "local-"

// Message is a single entry in a lesson transcript.
//
// Order is the server-assigned total-order key. Zero means "not yet ordered":
// such messages (optimistic inserts awaiting confirmation) sort after every
// ordered message. Step is the step snapshot embedded on model messages so
// that a stored transcript is self-describing; it is opaque JSON at this
// layer and is decoded by the lesson package on demand.
type Message struct {
	ID    string          `json:"id"`
	Role  Role            `json:"role"`
	Text  string          `json:"text"`
	Order int64           `json:"message_order,omitempty"`
	Step  json.RawMessage `json:"step,omitempty"`
}

// IsOptimistic reports whether m carries a locally generated identifier.
func (m Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, OptimisticIDPrefix)
}

// LessonKey addresses one lesson's script and transcript in the content
// store. Scripts are immutable per key.
type LessonKey struct {
	// Day is the curriculum day, e.g. "2026-03-14" or "day-12".
	Day string

	// Lesson is the lesson slug within the day.
	Lesson string

	// Level is the difficulty level the script was authored for.
	Level string

	// Language is the language being taught. It namespaces learner-local
	// state (gate unlocks, reveal indexes) but not the script itself.
	Language string
}

// String renders the key in its canonical "day/lesson/level/language" form
// used for cache keys and log fields.
func (k LessonKey) String() string {
	return k.Day + "/" + k.Lesson + "/" + k.Level + "/" + k.Language
}
