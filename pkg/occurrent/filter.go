// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import "strings"

// Standard CloudEvent attribute paths recognized by a Filter, in addition
// to the streamid/streamversion extensions and dotted paths into data
// (spec §3).
const (
	AttrID              = "id"
	AttrSource          = "source"
	AttrType            = "type"
	AttrSpecVersion     = "specversion"
	AttrSubject         = "subject"
	AttrTime            = "time"
	AttrDataContentType = "datacontenttype"
	AttrDataSchema      = "dataschema"
	AttrStreamID        = StreamIDExtension
	AttrStreamVersion   = StreamVersionExtension
	dataPrefix          = "data."
)

// orderableAttrs lists attribute paths whose values support LT/GT/LTE/GTE
// comparisons. All other attributes are opaque strings and only support
// EQ/NE.
var orderableAttrs = map[string]bool{
	AttrStreamVersion: true,
	AttrTime:          true,
}

// knownAttrs lists the statically recognized attribute paths. Dotted paths
// into `data` are always accepted since the payload shape is
// application-defined.
var knownAttrs = map[string]bool{
	AttrID: true, AttrSource: true, AttrType: true, AttrSpecVersion: true,
	AttrSubject: true, AttrTime: true, AttrDataContentType: true,
	AttrDataSchema: true, AttrStreamID: true, AttrStreamVersion: true,
}

func isKnownAttr(path string) bool {
	if knownAttrs[path] {
		return true
	}
	return strings.HasPrefix(path, dataPrefix) && len(path) > len(dataPrefix)
}

func isOrderableAttr(path string) bool {
	return orderableAttrs[path]
}

// FilterTerm is one (attribute path, Condition) pair of a Filter.
type FilterTerm struct {
	Attribute string
	Condition Condition
}

// Filter is a conjunction of zero or more attribute/Condition pairs (spec
// §3). The zero value matches every event.
type Filter struct {
	Terms []FilterTerm
}

// NewFilter builds a Filter from pairs, validating each attribute path and
// operand orderability per spec §4.A's error conditions.
func NewFilter(terms ...FilterTerm) (Filter, error) {
	for _, t := range terms {
		if !isKnownAttr(t.Attribute) {
			return Filter{}, NewInvalidArgumentError("unknown attribute path %q", t.Attribute)
		}
		if err := t.Condition.Validate(isOrderableAttr(t.Attribute)); err != nil {
			return Filter{}, err
		}
	}
	return Filter{Terms: append([]FilterTerm(nil), terms...)}, nil
}

// Where is a convenience constructor building a single-term Filter.
func Where(attribute string, c Condition) (Filter, error) {
	return NewFilter(FilterTerm{Attribute: attribute, Condition: c})
}

// And returns a new Filter conjoining f's terms with more.
func (f Filter) And(more ...FilterTerm) (Filter, error) {
	return NewFilter(append(append([]FilterTerm(nil), f.Terms...), more...)...)
}

// IsEmpty reports whether f has no terms, i.e. matches every event.
func (f Filter) IsEmpty() bool {
	return len(f.Terms) == 0
}
