package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreboard(t *testing.T) {
	s := newScoreboard("Alpha", "Beta")
	s.add("Alpha", "Beta", "1-0")
	s.add("Beta", "Alpha", "1/2-1/2")
	s.add("Alpha", "Beta", "0-1")
	s.add("Beta", "Alpha", "*")

	assert.Equal(t, "Score of Alpha vs Beta: 1.5 - 1.5 [3]", s.String())
}

func TestScoreboard_Empty(t *testing.T) {
	assert.Equal(t, "Score of A vs B: 0 - 0 [0]", newScoreboard("A", "B").String())
}
