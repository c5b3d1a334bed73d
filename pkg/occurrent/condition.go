// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import (
	"fmt"
	"strings"
)

// ConditionOp identifies the operator of a Condition node.
type ConditionOp int

// Comparison and composite operators recognized by the DSL (spec §3, §4.A).
const (
	OpEQ ConditionOp = iota
	OpLT
	OpGT
	OpLTE
	OpGTE
	OpNE
	OpAND
	OpOR
	OpNOT
)

func (op ConditionOp) String() string {
	switch op {
	case OpEQ:
		return "eq"
	case OpLT:
		return "lt"
	case OpGT:
		return "gt"
	case OpLTE:
		return "lte"
	case OpGTE:
		return "gte"
	case OpNE:
		return "ne"
	case OpAND:
		return "and"
	case OpOR:
		return "or"
	case OpNOT:
		return "not"
	default:
		return "unknown"
	}
}

func (op ConditionOp) isComposite() bool {
	return op == OpAND || op == OpOR || op == OpNOT
}

func (op ConditionOp) isOrderable() bool {
	return op == OpLT || op == OpGT || op == OpLTE || op == OpGTE
}

// Condition is a sum type with two variants: a single-operand comparison
// (Op is EQ/LT/GT/LTE/GTE/NE, Value holds the operand) or a multi-operand
// composite (Op is AND/OR/NOT, Children holds the sub-conditions). Build
// one with the eq/lt/gt/.../and/or/not constructors rather than composing
// the struct literal directly, since the constructors enforce the
// arity and description invariants.
type Condition struct {
	Op       ConditionOp
	Value    any
	Children []Condition
}

// Eq builds an equality comparison condition.
func Eq(v any) Condition { return comparison(OpEQ, v) }

// Lt builds a less-than comparison condition.
func Lt(v any) Condition { return comparison(OpLT, v) }

// Gt builds a greater-than comparison condition.
func Gt(v any) Condition { return comparison(OpGT, v) }

// Lte builds a less-than-or-equal comparison condition.
func Lte(v any) Condition { return comparison(OpLTE, v) }

// Gte builds a greater-than-or-equal comparison condition.
func Gte(v any) Condition { return comparison(OpGTE, v) }

// Ne builds a not-equal comparison condition.
func Ne(v any) Condition { return comparison(OpNE, v) }

func comparison(op ConditionOp, v any) Condition {
	return Condition{Op: op, Value: v}
}

// And builds a composite condition requiring every child to hold. It panics
// if fewer than two children are supplied, mirroring the DSL's contract
// that AND/OR are only meaningful with at least two operands — callers are
// expected to build conditions from fixed call sites, not user input, so a
// panic (rather than a returned error) matches the constructor-time
// enforcement the spec calls for.
func And(children ...Condition) Condition { return composite(OpAND, children) }

// Or builds a composite condition requiring at least one child to hold.
func Or(children ...Condition) Condition { return composite(OpOR, children) }

// Not builds a composite condition negating its single child. It panics if
// given any number of children other than one.
func Not(child Condition) Condition { return composite(OpNOT, []Condition{child}) }

func composite(op ConditionOp, children []Condition) Condition {
	switch op {
	case OpNOT:
		if len(children) != 1 {
			panic("occurrent: NOT condition must have exactly one child")
		}
	case OpAND, OpOR:
		if len(children) < 2 {
			panic("occurrent: AND/OR conditions require at least two children")
		}
	}
	return Condition{Op: op, Children: append([]Condition(nil), children...)}
}

// Validate checks structural invariants that the constructors already
// enforce for in-process callers, plus the orderability check that depends
// on the attribute's declared type. It is exercised by filter construction
// from untrusted input (e.g. deserialized query specs).
func (c Condition) Validate(orderable bool) error {
	switch c.Op {
	case OpNOT:
		if len(c.Children) != 1 {
			return NewInvalidArgumentError("NOT condition must have exactly one child")
		}
		return c.Children[0].Validate(orderable)
	case OpAND, OpOR:
		if len(c.Children) < 2 {
			return NewInvalidArgumentError("%s condition requires at least two children", c.Op)
		}
		for _, child := range c.Children {
			if err := child.Validate(orderable); err != nil {
				return err
			}
		}
		return nil
	default:
		if c.Op.isOrderable() && !orderable {
			return NewInvalidArgumentError("cannot compare a non-orderable attribute with %s", c.Op)
		}
		return nil
	}
}

// Describe renders the human-readable description mandated by spec §4.A:
// used verbatim in write-condition-not-fulfilled error messages, so its
// exact wording is part of the public contract.
func (c Condition) Describe() string {
	switch c.Op {
	case OpEQ:
		return describeComparison("to be equal to", c.Value)
	case OpLT:
		return describeComparison("to be less than", c.Value)
	case OpGT:
		return describeComparison("to be greater than", c.Value)
	case OpLTE:
		return describeComparison("to be less than or equal to", c.Value)
	case OpGTE:
		return describeComparison("to be greater than or equal to", c.Value)
	case OpNE:
		return describeComparison("to not be equal to", c.Value)
	case OpAND:
		return joinChildren(c.Children, " and ")
	case OpOR:
		return joinChildren(c.Children, " or ")
	case OpNOT:
		return "not " + c.Children[0].Describe()
	default:
		return "to satisfy an unknown condition"
	}
}

func describeComparison(verb string, v any) string {
	return verb + " " + formatValue(v)
}

func joinChildren(children []Condition, sep string) string {
	var sb strings.Builder
	for i, child := range children {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(child.Describe())
	}
	return sb.String()
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
