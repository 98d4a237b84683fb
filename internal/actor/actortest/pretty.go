package actortest

import (
	"encoding/json"
	"fmt"
)

// Pretty renders v for failure messages: indented JSON when possible, Go
// syntax otherwise (channels, funcs).
func Pretty(v any) string {
	if v == nil {
		return "<nil>"
	}
	if data, err := json.MarshalIndent(v, "", "  "); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%#v", v)
}

// EffectTypes returns the dynamic type names of effects, e.g. for asserting
// effect order without comparing payloads.
func EffectTypes[E any](effects []E) []string {
	out := make([]string, 0, len(effects))
	for _, eff := range effects {
		out = append(out, fmt.Sprintf("%T", eff))
	}
	return out
}
