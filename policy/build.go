package policy

import (
	"errors"
	"fmt"
	"log/slog"
)

// Field names of a raw record. All three must be present; a null value
// means the criterion is unset.
const (
	FieldClass = "class_"
	FieldID    = "id_"
	FieldValue = "value_"
)

// ErrMalformedRecord is wrapped by every record conversion failure.
var ErrMalformedRecord = errors.New("policy: malformed record")

// Record is one raw domain entry as decoded from configuration.
type Record map[string]any

// Build converts raw host → record entries into a Set. Malformed entries are
// skipped, logged and returned as errors; the remaining entries are still
// converted.
func Build(records map[string]Record, logger *slog.Logger) (Set, []error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		policies []Policy
		errs     []error
	)
	for host, rec := range records {
		p, err := FromRecord(host, rec)
		if err != nil {
			logger.Warn("policy: skipping domain entry", "host", host, "error", err)
			errs = append(errs, err)
			continue
		}
		policies = append(policies, p)
	}
	return NewSet(policies...), errs
}

// FromRecord converts a single raw record.
func FromRecord(host string, rec Record) (Policy, error) {
	class, _, err := stringField(rec, FieldClass)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, host, err)
	}
	id, _, err := stringField(rec, FieldID)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, host, err)
	}
	value, hasValue, err := stringField(rec, FieldValue)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, host, err)
	}

	// An empty but present value still compiles, to a match-anything pattern.
	p := Policy{Host: host, Class: class, ID: id, rawValue: value}
	if hasValue {
		re, err := containsPattern(value)
		if err != nil {
			return Policy{}, fmt.Errorf("%w: %s: compile %s: %v", ErrMalformedRecord, host, FieldValue, err)
		}
		p.Value = re
	}
	return p, nil
}

// stringField reports the field's string and whether it was set (non-null).
func stringField(rec Record, name string) (string, bool, error) {
	v, ok := rec[name]
	if !ok {
		return "", false, fmt.Errorf("missing field %q", name)
	}
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	default:
		return "", false, fmt.Errorf("field %q: want string or null, got %T", name, v)
	}
}
