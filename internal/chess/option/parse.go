package option

import (
	"fmt"
	"strconv"
	"strings"
)

var xboardKinds = []string{"button", "save", "reset", "check", "string", "file", "path", "spin", "slider", "combo"}

// ParseXboard parses the value of an xboard "feature option" declaration,
// e.g. `Hash -spin 64 1 1024` or `Style -combo Solid /// *Normal /// Risky`.
func ParseXboard(decl string) (Option, error) {
	decl = strings.TrimSpace(decl)
	name, kind, rest := "", "", ""
	for i := 0; i+1 < len(decl); i++ {
		if decl[i] != ' ' || decl[i+1] != '-' {
			continue
		}
		tail := decl[i+2:]
		word := tail
		if j := strings.IndexByte(tail, ' '); j >= 0 {
			word = tail[:j]
		}
		if !isXboardKind(word) {
			continue
		}
		name = strings.TrimSpace(decl[:i])
		kind = word
		rest = strings.TrimSpace(tail[len(word):])
		break
	}
	if name == "" || kind == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadDeclaration, decl)
	}

	switch kind {
	case "button", "save", "reset":
		return NewButton(name), nil
	case "check":
		v, err := strconv.Atoi(rest)
		if err != nil || (v != 0 && v != 1) {
			return nil, fmt.Errorf("%w: check value %q", ErrBadDeclaration, rest)
		}
		return NewCheck(name, v == 1, v == 1), nil
	case "string":
		return NewText(name, rest, rest, EditString), nil
	case "file":
		return NewText(name, rest, rest, EditFile), nil
	case "path":
		return NewText(name, rest, rest, EditPath), nil
	case "spin", "slider":
		f := strings.Fields(rest)
		if len(f) != 3 {
			return nil, fmt.Errorf("%w: spin args %q", ErrBadDeclaration, rest)
		}
		vals := make([]int, 3)
		for i, s := range f {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("%w: spin arg %q", ErrBadDeclaration, s)
			}
			vals[i] = n
		}
		o := NewSpin(name, vals[0], vals[0], vals[1], vals[2])
		if !WellFormed(o) {
			return nil, fmt.Errorf("%w: spin %q out of range", ErrBadDeclaration, name)
		}
		return o, nil
	case "combo":
		var choices []string
		def := ""
		for _, c := range strings.Split(rest, "///") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if strings.HasPrefix(c, "*") {
				c = strings.TrimSpace(c[1:])
				def = c
			}
			choices = append(choices, c)
		}
		if len(choices) == 0 {
			return nil, fmt.Errorf("%w: combo %q has no choices", ErrBadDeclaration, name)
		}
		if def == "" {
			def = choices[0]
		}
		return NewCombo(name, def, def, choices), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrBadDeclaration, decl)
}

func isXboardKind(s string) bool {
	for _, k := range xboardKinds {
		if k == s {
			return true
		}
	}
	return false
}

// startsField reports whether tok opens a new field after the field prev. Fields come in the
// order name, type, then any of default/min/max/var, and every field takes at least one token,
// so a keyword anywhere else is part of a value.
func startsField(prev string, empty bool, tok string) bool {
	if prev != "" && empty {
		return false
	}
	switch prev {
	case "":
		return tok == "name"
	case "name":
		return tok == "type"
	}
	switch tok {
	case "default", "min", "max", "var":
		return true
	}
	return false
}

// ParseUCI parses a UCI "option name ... type ..." line.
func ParseUCI(line string) (Option, error) {
	tokens := strings.Fields(line)
	if len(tokens) > 0 && tokens[0] == "option" {
		tokens = tokens[1:]
	}

	var (
		name, kind, def string
		hasDefault       bool
		min, max         int
		hasMin, hasMax   bool
		choices          []string
	)
	keyword := ""
	var value []string
	flush := func() error {
		text := strings.Join(value, " ")
		switch keyword {
		case "name":
			name = text
		case "type":
			kind = text
		case "default":
			def = text
			hasDefault = true
		case "min":
			n, err := strconv.Atoi(text)
			if err != nil {
				return fmt.Errorf("%w: min %q", ErrBadDeclaration, text)
			}
			min, hasMin = n, true
		case "max":
			n, err := strconv.Atoi(text)
			if err != nil {
				return fmt.Errorf("%w: max %q", ErrBadDeclaration, text)
			}
			max, hasMax = n, true
		case "var":
			choices = append(choices, text)
		}
		value = value[:0]
		return nil
	}
	for _, tok := range tokens {
		if !startsField(keyword, len(value) == 0, tok) {
			value = append(value, tok)
			continue
		}
		if keyword != "" {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		keyword = tok
	}
	if keyword != "" {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if name == "" || kind == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadDeclaration, line)
	}

	switch kind {
	case "check":
		b, err := strconv.ParseBool(def)
		if err != nil {
			return nil, fmt.Errorf("%w: check default %q", ErrBadDeclaration, def)
		}
		return NewCheck(name, b, b), nil
	case "spin":
		if !hasDefault {
			return nil, fmt.Errorf("%w: spin %q without default", ErrBadDeclaration, name)
		}
		n, err := strconv.Atoi(def)
		if err != nil {
			return nil, fmt.Errorf("%w: spin default %q", ErrBadDeclaration, def)
		}
		if !hasMin || !hasMax {
			min, max = 0, 0
		}
		return NewSpin(name, n, n, min, max), nil
	case "combo":
		if len(choices) == 0 {
			return nil, fmt.Errorf("%w: combo %q has no choices", ErrBadDeclaration, name)
		}
		o := NewCombo(name, def, def, choices)
		if !WellFormed(o) {
			return nil, fmt.Errorf("%w: combo %q default %q not a choice", ErrBadDeclaration, name, def)
		}
		return o, nil
	case "string":
		if def == "<empty>" {
			def = ""
		}
		return NewText(name, def, def, EditString), nil
	case "button":
		return NewButton(name), nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrBadDeclaration, kind)
}
