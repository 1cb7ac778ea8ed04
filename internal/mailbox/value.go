package mailbox

import (
	"strconv"
	"strings"
)

type valueState int

const (
	stateUnknown valueState = iota
	stateNone
	stateNumber
	stateFlags
	stateBool
)

// Value is a STATUS value. It distinguishes a value the server never
// reported (Unknown) from one known to be absent (None) and from real zero
// or false values.
type Value struct {
	state valueState
	num   uint64
	flags []string
	flag  bool
}

func Unknown() Value { return Value{} }

// None marks a value known not to exist, such as the first unseen message of
// a mailbox without unseen messages.
func None() Value { return Value{state: stateNone} }

func Number(n uint64) Value { return Value{state: stateNumber, num: n} }

func FlagList(flags ...string) Value {
	return Value{state: stateFlags, flags: append([]string{}, flags...)}
}

func Bool(b bool) Value { return Value{state: stateBool, flag: b} }

func (v Value) IsUnknown() bool { return v.state == stateUnknown }

func (v Value) IsNone() bool { return v.state == stateNone }

// Uint returns the numeric value; ok is false for anything but a number.
func (v Value) Uint() (n uint64, ok bool) {
	return v.num, v.state == stateNumber
}

// Flags returns a copy of the flag list, or nil if v is not a flag list.
func (v Value) Flags() []string {
	if v.state != stateFlags {
		return nil
	}
	return append([]string{}, v.flags...)
}

// Bool returns the boolean value; ok is false for anything but a boolean.
func (v Value) Bool() (b bool, ok bool) {
	return v.flag, v.state == stateBool
}

func (v Value) String() string {
	switch v.state {
	case stateNone:
		return "none"
	case stateNumber:
		return strconv.FormatUint(v.num, 10)
	case stateFlags:
		return "(" + strings.Join(v.flags, " ") + ")"
	case stateBool:
		return strconv.FormatBool(v.flag)
	default:
		return "unknown"
	}
}
