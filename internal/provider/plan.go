package provider

import (
	"encoding/json"
	"fmt"
)

// PlanEntry is one proposed group: a name plus the tab ids that should end
// up in it. It is the only shape a grouping call may produce.
type PlanEntry struct {
	GroupName string `json:"group_name"`
	IDs       []int  `json:"ids"`
}

// ParsePlan validates a provider's grouping output in one place: a JSON
// array of objects, each with a string group_name and an array of integer
// ids. Anything else is a single descriptive parse error; downstream code
// never re-derives validity piecemeal.
func ParsePlan(raw string) ([]PlanEntry, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, fmt.Errorf("plan is not a JSON array: %w", err)
	}

	entries := make([]PlanEntry, 0, len(elems))
	for i, elem := range elems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil {
			return nil, fmt.Errorf("plan entry %d is not an object: %w", i, err)
		}

		var entry PlanEntry
		nameRaw, ok := fields["group_name"]
		if !ok {
			return nil, fmt.Errorf("plan entry %d has no group_name", i)
		}
		if err := json.Unmarshal(nameRaw, &entry.GroupName); err != nil {
			return nil, fmt.Errorf("plan entry %d group_name is not a string: %w", i, err)
		}

		idsRaw, ok := fields["ids"]
		if !ok {
			return nil, fmt.Errorf("plan entry %d has no ids", i)
		}
		if err := json.Unmarshal(idsRaw, &entry.IDs); err != nil {
			return nil, fmt.Errorf("plan entry %d ids is not an integer array: %w", i, err)
		}

		entries = append(entries, entry)
	}
	return entries, nil
}
