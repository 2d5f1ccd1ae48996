// Package trigger decides which occurrence counts of a grouped error produce a notification.
package trigger

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

// Trigger decides from the post-increment count of a group whether to notify.
type Trigger interface {
	Notify(count int64) bool
}

// ShouldNotify evaluates t for count. A nil trigger notifies on every occurrence.
func ShouldNotify(count int64, t Trigger) bool {
	if t == nil {
		return true
	}

	return t.Notify(count)
}

// Exactly notifies only when the count equals N. Exactly(1) notifies on the first
// occurrence of each window.
type Exactly int64

func (n Exactly) Notify(count int64) bool {
	return count == int64(n)
}

func (n Exactly) String() string {
	return strconv.FormatInt(int64(n), 10)
}

// Func adapts a predicate over the count.
type Func func(count int64) bool

func (f Func) Notify(count int64) bool {
	return f(count)
}

type everyNth struct {
	n          int64
	withFirst  bool
	configForm string
}

// EveryNth notifies when the count is a multiple of n.
func EveryNth(n int64) Trigger {
	return everyNth{n: max(n, 1), configForm: fmt.Sprintf("every:%d", n)}
}

// FirstAndEveryNth notifies on the first occurrence and on every multiple of n after it.
func FirstAndEveryNth(n int64) Trigger {
	return everyNth{n: max(n, 1), withFirst: true, configForm: fmt.Sprintf("first+every:%d", n)}
}

func (e everyNth) Notify(count int64) bool {
	if e.withFirst && count == 1 {
		return true
	}

	return count > 0 && count%e.n == 0
}

func (e everyNth) String() string {
	return e.configForm
}

type powersOfTwo struct{}

// PowersOfTwo notifies at counts 1, 2, 4, 8 and so on, backing off as a failure keeps
// recurring.
func PowersOfTwo() Trigger {
	return powersOfTwo{}
}

func (powersOfTwo) Notify(count int64) bool {
	return count > 0 && bits.OnesCount64(uint64(count)) == 1
}

func (powersOfTwo) String() string {
	return "pow2"
}

// Parse reads the textual form used in configuration:
//
//	""  or "always"   every occurrence (nil trigger)
//	"N"               Exactly(N)
//	"every:N"         EveryNth(N)
//	"first+every:N"   FirstAndEveryNth(N)
//	"pow2"            PowersOfTwo()
func Parse(s string) (Trigger, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch {
	case s == "" || s == "always":
		return nil, nil //nolint:nilnil // a nil trigger means every occurrence
	case s == "pow2":
		return PowersOfTwo(), nil
	case strings.HasPrefix(s, "first+every:"):
		n, err := positive(s, strings.TrimPrefix(s, "first+every:"))
		if err != nil {
			return nil, err
		}

		return FirstAndEveryNth(n), nil
	case strings.HasPrefix(s, "every:"):
		n, err := positive(s, strings.TrimPrefix(s, "every:"))
		if err != nil {
			return nil, err
		}

		return EveryNth(n), nil
	default:
		n, err := positive(s, s)
		if err != nil {
			return nil, err
		}

		return Exactly(n), nil
	}
}

func positive(raw, num string) (int64, error) {
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTrigger, raw)
	}

	return n, nil
}
