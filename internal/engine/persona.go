package engine

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"snapbot/internal/clock"
)

// PersonaSignature fingerprints the settings that shape a day's plan.
// A changed signature means the retained plan no longer matches the
// character and must be regenerated. FNV-64a over canonical JSON keeps
// it stable across key order and whitespace.
func PersonaSignature(persona string, slots []clock.TimeOfDay) string {
	payload := struct {
		Persona string            `json:"persona"`
		Slots   []clock.TimeOfDay `json:"slots"`
	}{Persona: persona, Slots: slots}
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(persona)
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}
