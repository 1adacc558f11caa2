package models

import "reflect"

// DiffSnapshots computes the field-level difference between two opaque
// snapshots. For every key present in either map where the values differ,
// the change is recorded with the old and new value; a key absent from one
// side is treated as a distinguished missing value, so additions and
// removals are recorded too. Both arguments may be nil. The function is
// pure and does not depend on any persistence layer change tracking.
func DiffSnapshots(oldValues, newValues map[string]interface{}) ChangeSet {
	if len(oldValues) == 0 && len(newValues) == 0 {
		return nil
	}

	changes := make(ChangeSet)

	for key, oldVal := range oldValues {
		newVal, ok := newValues[key]
		if !ok {
			changes[key] = FieldChange{Old: oldVal, New: nil}
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			changes[key] = FieldChange{Old: oldVal, New: newVal}
		}
	}

	for key, newVal := range newValues {
		if _, ok := oldValues[key]; !ok {
			changes[key] = FieldChange{Old: nil, New: newVal}
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return changes
}
