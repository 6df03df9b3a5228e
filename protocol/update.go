package protocol

// Properties are the free-form metadata of a topic, such as "persistent" or
// "retained".
type Properties map[string]interface{}

// Merge applies update onto p and returns the result. Keys whose update value
// is nil are removed. p is modified in place when it is not nil.
func (p Properties) Merge(update Properties) Properties {
	if p == nil {
		p = make(Properties, len(update))
	}

	for key, value := range update {
		if value == nil {
			delete(p, key)
			continue
		}

		p[key] = value
	}

	return p
}

// Clone returns a shallow copy of p.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}

	clone := make(Properties, len(p))
	for key, value := range p {
		clone[key] = value
	}

	return clone
}
