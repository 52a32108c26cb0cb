package bus

// Filter is a mask/pattern acceptance filter: a frame passes when
// id&Mask == Pattern&Mask. Filters are additive; a frame is delivered when
// ANY registered filter matches. An empty filter set accepts everything.
type Filter struct {
	Pattern uint32
	Mask    uint32
}

// ExactFilter matches a single arbitration ID.
func ExactFilter(id uint32) Filter {
	return Filter{Pattern: id, Mask: 0xFFFFFFFF}
}

// Matches reports whether the frame passes this filter.
func (f Filter) Matches(frame Frame) bool {
	return frame.ID&f.Mask == f.Pattern&f.Mask
}

// FilterSet is the additive collection evaluated by the receive loop.
type FilterSet []Filter

// Accepts reports whether any filter matches; an empty set accepts all.
func (fs FilterSet) Accepts(frame Frame) bool {
	if len(fs) == 0 {
		return true
	}
	for _, f := range fs {
		if f.Matches(frame) {
			return true
		}
	}
	return false
}
