package core

import (
	"fmt"
)

// recomputeStored runs the model's stored computes in declaration order and
// flushes any changed values back to the row. It must run after column
// writes are flushed (so relationships resolve against current state) and
// before relational sub-payloads are applied.
func recomputeStored(env *Environment, rec *Record) error {
	fields := rec.model.computedFields(true)
	if len(fields) == 0 {
		return nil
	}
	updates := make(map[string]any)
	for _, name := range fields {
		v, err := rec.runCompute(name)
		if err != nil {
			return fmt.Errorf("compute %s.%s: %w", rec.model.Name, name, err)
		}
		if !valuesMatch(rec.data[name], v) {
			updates[name] = v
		}
	}
	if len(updates) == 0 {
		return nil
	}
	err := env.db.Table(rec.model.Table).Where("id = ?", rec.id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("flush computed %s(%d): %w", rec.model.Name, rec.id, translateDBError(err))
	}
	return rec.Refresh()
}

// RecomputeAll evaluates every compute of the record in declaration order
// and returns the values without persisting anything. Non-stored fields and
// dependency-less computes recompute on each call; stored values come back
// as currently derived, not as persisted.
func RecomputeAll(rec *Record) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range rec.model.computedFields(false) {
		v, err := rec.runCompute(name)
		if err != nil {
			return nil, fmt.Errorf("compute %s.%s: %w", rec.model.Name, name, err)
		}
		out[name] = v
	}
	return out, nil
}

func valuesMatch(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toComparable(a); ok {
		if bf, ok := toComparable(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
