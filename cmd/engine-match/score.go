package main

import (
	"fmt"
	"strconv"
)

// scoreboard tallies points per engine across colors.
type scoreboard struct {
	first, second string
	points        map[string]float64
	games         int
}

func newScoreboard(first, second string) *scoreboard {
	return &scoreboard{first: first, second: second, points: map[string]float64{first: 0, second: 0}}
}

func (s *scoreboard) add(white, black, result string) {
	switch result {
	case "1-0":
		s.points[white]++
	case "0-1":
		s.points[black]++
	case "1/2-1/2":
		s.points[white] += 0.5
		s.points[black] += 0.5
	default:
		// unfinished games do not count
		return
	}
	s.games++
}

func (s *scoreboard) String() string {
	return fmt.Sprintf("Score of %s vs %s: %s - %s [%d]",
		s.first, s.second, formatPoints(s.points[s.first]), formatPoints(s.points[s.second]), s.games)
}

func formatPoints(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
