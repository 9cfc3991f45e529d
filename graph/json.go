package graph

import (
	"encoding/json"

	"github.com/cellwire/cellgraph"
)

// ToJSON serializes engine's graph structure per spec §6: an array of
// records, one per node, each carrying its index, kind, current value and
// dependency indices. Function closures are never serialized; only the
// last observed value is.
func ToJSON(engine *cellgraph.Engine) ([]byte, error) {
	return json.Marshal(engine.Snapshot())
}

// ToJSONIndent is ToJSON with two-space indentation, for human inspection.
func ToJSONIndent(engine *cellgraph.Engine) ([]byte, error) {
	return json.MarshalIndent(engine.Snapshot(), "", "  ")
}
