package diddoc

import "encoding/json"

// OneOrMany models a JSON field that may appear as either a bare scalar or
// an array of scalars, per spec §9. It marshals back to a scalar when it
// holds exactly one element, matching the wire shape produced by the
// systems this spec is modeled on.
type OneOrMany[T any] []T

// Single builds a OneOrMany holding one value.
func Single[T any](v T) OneOrMany[T] { return OneOrMany[T]{v} }

func (o OneOrMany[T]) MarshalJSON() ([]byte, error) {
	if len(o) == 1 {
		return json.Marshal(o[0])
	}

	return json.Marshal([]T(o))
}

func (o *OneOrMany[T]) UnmarshalJSON(data []byte) error {
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		*o = many

		return nil
	}

	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}

	*o = OneOrMany[T]{single}

	return nil
}
