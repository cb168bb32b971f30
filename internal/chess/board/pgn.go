package board

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
)

// Headers are the PGN tag pairs written ahead of the movetext.
type Headers struct {
	Event       string
	Site        string
	Date        time.Time
	Round       int
	White       string
	Black       string
	TimeControl string
	ECO         string
	Opening     string
}

// PGN renders the game played on b with result as its termination.
func (b *Board) PGN(h Headers, result engine.GameResult) string {
	var sb strings.Builder
	date := h.Date
	if date.IsZero() {
		date = time.Now()
	}
	event := h.Event
	if strings.TrimSpace(event) == "" {
		event = "Engine match"
	}
	site := h.Site
	if strings.TrimSpace(site) == "" {
		site = "?"
	}
	round := "-"
	if h.Round > 0 {
		round = strconv.Itoa(h.Round)
	}

	writeTag(&sb, "Event", event)
	writeTag(&sb, "Site", site)
	writeTag(&sb, "Date", fmt.Sprintf("%04d.%02d.%02d", date.Year(), int(date.Month()), date.Day()))
	writeTag(&sb, "Round", round)
	writeTag(&sb, "White", h.White)
	writeTag(&sb, "Black", h.Black)
	writeTag(&sb, "Result", result.Token())
	if b.startFEN != StandardFEN {
		writeTag(&sb, "SetUp", "1")
		writeTag(&sb, "FEN", b.startFEN)
	}
	if strings.TrimSpace(h.ECO) != "" {
		writeTag(&sb, "ECO", h.ECO)
	}
	if strings.TrimSpace(h.Opening) != "" {
		writeTag(&sb, "Opening", h.Opening)
	}
	if strings.TrimSpace(h.TimeControl) != "" {
		writeTag(&sb, "TimeControl", h.TimeControl)
	}
	if t := Termination(result); t != "" {
		writeTag(&sb, "Termination", t)
	}
	sb.WriteString("\n")

	// 흑 선수로 시작하는 포지션은 "1..." 로 번호를 이어간다
	ply := 0
	moveNo := 1
	if fields := strings.Fields(b.startFEN); len(fields) > 1 && fields[1] == "b" {
		ply = 1
	}
	if fields := strings.Fields(b.startFEN); len(fields) > 5 {
		fmt.Sscan(fields[5], &moveNo)
	}
	for i, san := range b.san {
		switch {
		case (ply+i)%2 == 0:
			fmt.Fprintf(&sb, "%d. ", moveNo)
		case i == 0:
			fmt.Fprintf(&sb, "%d... ", moveNo)
		}
		sb.WriteString(san)
		sb.WriteString(" ")
		if (ply+i)%2 == 1 {
			moveNo++
		}
	}
	if result.Description != "" {
		fmt.Fprintf(&sb, "{%s} ", sanitizePGN(result.Description))
	}
	sb.WriteString(result.Token())
	sb.WriteString("\n")
	return sb.String()
}

func writeTag(sb *strings.Builder, key, value string) {
	fmt.Fprintf(sb, "[%s \"%s\"]\n", key, sanitizePGN(value))
}

// Termination is the PGN Termination tag value for r.
func Termination(r engine.GameResult) string {
	switch r.Reason {
	case engine.Timeout:
		return "time forfeit"
	case engine.IllegalMove, engine.StalledConnection, engine.Disconnection:
		return "rules infraction"
	case engine.Adjudication:
		return "adjudication"
	case engine.Normal, engine.Resignation, engine.Agreement:
		if r.IsNone() {
			return "unterminated"
		}
		return "normal"
	default:
		return ""
	}
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
