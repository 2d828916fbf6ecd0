package mapper

// Mapper is the explicit conversion capability set between the three
// representations of an item: wire (serialized), DTO (validated record) and
// domain (invariants-bearing record). There is no hierarchy; a mapper is
// just four functions.
type Mapper[W, T, D any] struct {
	FromWireFn func(W) (T, error)
	ToWireFn   func(T) (W, error)
	FromDTOFn  func(T) (D, error)
	ToDTOFn    func(D) (T, error)
}

// FromWire parses the wire form into a DTO.
func (m Mapper[W, T, D]) FromWire(w W) (T, error) { return m.FromWireFn(w) }

// ToWire serializes a DTO into its wire form.
func (m Mapper[W, T, D]) ToWire(t T) (W, error) { return m.ToWireFn(t) }

// FromDTO lifts a validated DTO into the domain representation.
func (m Mapper[W, T, D]) FromDTO(t T) (D, error) { return m.FromDTOFn(t) }

// ToDTO lowers a domain value into its DTO.
func (m Mapper[W, T, D]) ToDTO(d D) (T, error) { return m.ToDTOFn(d) }

// DomainFromWire composes FromWire and FromDTO.
func (m Mapper[W, T, D]) DomainFromWire(w W) (D, error) {
	var zero D
	dto, err := m.FromWire(w)
	if err != nil {
		return zero, err
	}
	return m.FromDTO(dto)
}

// WireFromDomain composes ToDTO and ToWire.
func (m Mapper[W, T, D]) WireFromDomain(d D) (W, error) {
	var zero W
	dto, err := m.ToDTO(d)
	if err != nil {
		return zero, err
	}
	return m.ToWire(dto)
}

// Identity builds the DTO<->domain half of a mapper for types where the two
// representations coincide. Values pass through by reference.
func Identity[T any]() (func(T) (T, error), func(T) (T, error)) {
	pass := func(v T) (T, error) { return v, nil }
	return pass, pass
}
