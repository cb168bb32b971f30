package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrBadTimeControl = errors.New("invalid time control")

// TimeControl limits a player's search. Exactly one of the clock modes
// (tournament clock, per-move time, infinite) is active; depth and node limits combine with any of them.
type TimeControl struct {
	MovesPerTC  int
	TimePerTC   time.Duration
	Increment   time.Duration
	TimePerMove time.Duration
	Infinite    bool
	MaxDepth    int
	NodeLimit   int
}

// ParseTimeControl reads "40/60+0.5", "60+1", "st=5", "inf" with optional
// ",depth=N" and ",nodes=N" suffixes. Times are in seconds.
func ParseTimeControl(s string) (TimeControl, error) {
	var tc TimeControl
	parts := strings.Split(strings.TrimSpace(s), ",")
	head := strings.ToLower(strings.TrimSpace(parts[0]))
	switch {
	case head == "":
		return tc, fmt.Errorf("%w: empty", ErrBadTimeControl)
	case head == "inf" || head == "infinite":
		tc.Infinite = true
	case strings.HasPrefix(head, "st="):
		d, err := parseSeconds(head[3:])
		if err != nil || d <= 0 {
			return tc, fmt.Errorf("%w: %q", ErrBadTimeControl, s)
		}
		tc.TimePerMove = d
	case strings.HasPrefix(head, "depth=") || strings.HasPrefix(head, "nodes="):
		// limits only, clock-free
		parts = append([]string{""}, parts...)
		tc.Infinite = true
	default:
		rest := head
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			n, err := strconv.Atoi(rest[:i])
			if err != nil || n <= 0 {
				return tc, fmt.Errorf("%w: moves %q", ErrBadTimeControl, rest[:i])
			}
			tc.MovesPerTC = n
			rest = rest[i+1:]
		}
		if i := strings.IndexByte(rest, '+'); i >= 0 {
			inc, err := parseSeconds(rest[i+1:])
			if err != nil || inc < 0 {
				return tc, fmt.Errorf("%w: increment %q", ErrBadTimeControl, rest[i+1:])
			}
			tc.Increment = inc
			rest = rest[:i]
		}
		base, err := parseSeconds(rest)
		if err != nil || base <= 0 {
			return tc, fmt.Errorf("%w: base %q", ErrBadTimeControl, rest)
		}
		tc.TimePerTC = base
	}

	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			return tc, fmt.Errorf("%w: %q", ErrBadTimeControl, p)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return tc, fmt.Errorf("%w: %q", ErrBadTimeControl, p)
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "depth":
			tc.MaxDepth = n
		case "nodes":
			tc.NodeLimit = n
		default:
			return tc, fmt.Errorf("%w: unknown limit %q", ErrBadTimeControl, k)
		}
	}
	return tc, nil
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadTimeControl, s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (tc TimeControl) IsValid() bool {
	if tc.MaxDepth < 0 || tc.NodeLimit < 0 || tc.Increment < 0 || tc.MovesPerTC < 0 {
		return false
	}
	switch {
	case tc.Infinite:
		return tc.TimePerMove == 0 && tc.TimePerTC == 0
	case tc.TimePerMove > 0:
		return tc.TimePerTC == 0
	default:
		return tc.TimePerTC > 0
	}
}

func (tc TimeControl) String() string {
	var head string
	switch {
	case tc.Infinite:
		head = "inf"
	case tc.TimePerMove > 0:
		head = "st=" + formatSeconds(tc.TimePerMove)
	default:
		head = formatSeconds(tc.TimePerTC)
		if tc.MovesPerTC > 0 {
			head = strconv.Itoa(tc.MovesPerTC) + "/" + head
		}
		if tc.Increment > 0 {
			head += "+" + formatSeconds(tc.Increment)
		}
	}
	if tc.MaxDepth > 0 {
		head += ",depth=" + strconv.Itoa(tc.MaxDepth)
	}
	if tc.NodeLimit > 0 {
		head += ",nodes=" + strconv.Itoa(tc.NodeLimit)
	}
	return head
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// MoveAllowance is the longest a single move may legitimately take given the time left on the clock.
func (tc TimeControl) MoveAllowance(timeLeft time.Duration) time.Duration {
	switch {
	case tc.Infinite:
		return 0
	case tc.TimePerMove > 0:
		return tc.TimePerMove
	case timeLeft > 0:
		return timeLeft + tc.Increment
	default:
		return tc.TimePerTC + tc.Increment
	}
}

// MovesToGo returns how many moves remain until the next time control, or 0 for sudden death.
func (tc TimeControl) MovesToGo(movesPlayed int) int {
	if tc.MovesPerTC <= 0 || movesPlayed < 0 {
		return 0
	}
	return tc.MovesPerTC - movesPlayed%tc.MovesPerTC
}
