package option

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidValue   = errors.New("invalid option value")
	ErrUnknownOption  = errors.New("unknown option")
	ErrBadDeclaration = errors.New("malformed option declaration")
)

// Kind identifies the value type of an engine option.
type Kind int

const (
	Check Kind = iota
	Spin
	Combo
	Text
	Button
)

func (k Kind) String() string {
	switch k {
	case Check:
		return "check"
	case Spin:
		return "spin"
	case Combo:
		return "combo"
	case Text:
		return "string"
	case Button:
		return "button"
	default:
		return "unknown"
	}
}

// Dialect selects the wire syntax used to announce an option.
type Dialect int

const (
	Xboard Dialect = iota
	UCI
)

// Option is a typed engine setting. Values are validated before they are stored.
type Option interface {
	Name() string
	Alias() string
	SetAlias(alias string)
	Kind() Kind
	Value() any
	DefaultValue() any
	IsValid(v any) bool
	SetValue(v any) error
	WireValue() string
	Declaration(d Dialect) string
	Clone() Option
}

// WellFormed reports whether both the current and the default value are valid.
func WellFormed(o Option) bool {
	if o == nil {
		return false
	}
	return o.IsValid(o.Value()) && o.IsValid(o.DefaultValue())
}

type base struct {
	name  string
	alias string
}

func (b *base) Name() string  { return b.name }
func (b *base) Alias() string { return b.alias }

// SetAlias sets the protocol-side name used when the option is transmitted.
func (b *base) SetAlias(alias string) { b.alias = strings.TrimSpace(alias) }

func (b *base) wireName() string {
	if b.alias != "" {
		return b.alias
	}
	return b.name
}

func invalid(name string, v any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidValue, name, v)
}

// CheckOption is a boolean option.
type CheckOption struct {
	base
	value bool
	def   bool
}

func NewCheck(name string, value, def bool) *CheckOption {
	return &CheckOption{base: base{name: name}, value: value, def: def}
}

func (o *CheckOption) Kind() Kind        { return Check }
func (o *CheckOption) Value() any        { return o.value }
func (o *CheckOption) DefaultValue() any { return o.def }
func (o *CheckOption) WireValue() string { return strconv.FormatBool(o.value) }

func (o *CheckOption) IsValid(v any) bool {
	_, ok := toBool(v)
	return ok
}

func (o *CheckOption) SetValue(v any) error {
	b, ok := toBool(v)
	if !ok {
		return invalid(o.name, v)
	}
	o.value = b
	return nil
}

func (o *CheckOption) Declaration(d Dialect) string {
	if d == UCI {
		return fmt.Sprintf("option name %s type check default %t", o.wireName(), o.def)
	}
	return fmt.Sprintf("%s -check %d", o.wireName(), boolInt(o.def))
}

func (o *CheckOption) Clone() Option {
	c := *o
	return &c
}

// SpinOption is a bounded integer option. Min == Max == 0 leaves it unbounded, which is how
// engines declare spins without limits; Min > Max never validates.
type SpinOption struct {
	base
	value int
	def   int
	min   int
	max   int
}

func NewSpin(name string, value, def, min, max int) *SpinOption {
	return &SpinOption{base: base{name: name}, value: value, def: def, min: min, max: max}
}

func (o *SpinOption) Kind() Kind        { return Spin }
func (o *SpinOption) Value() any        { return o.value }
func (o *SpinOption) DefaultValue() any { return o.def }
func (o *SpinOption) Min() int          { return o.min }
func (o *SpinOption) Max() int          { return o.max }
func (o *SpinOption) WireValue() string { return strconv.Itoa(o.value) }

func (o *SpinOption) IsValid(v any) bool {
	n, ok := toInt(v)
	if !ok {
		return false
	}
	return o.inRange(n)
}

func (o *SpinOption) inRange(n int) bool {
	if o.min > o.max {
		return false
	}
	if o.min == 0 && o.max == 0 {
		return true
	}
	return n >= o.min && n <= o.max
}

func (o *SpinOption) SetValue(v any) error {
	n, ok := toInt(v)
	if !ok || !o.inRange(n) {
		return invalid(o.name, v)
	}
	o.value = n
	return nil
}

func (o *SpinOption) Declaration(d Dialect) string {
	if d == UCI {
		return fmt.Sprintf("option name %s type spin default %d min %d max %d", o.wireName(), o.def, o.min, o.max)
	}
	return fmt.Sprintf("%s -spin %d %d %d", o.wireName(), o.def, o.min, o.max)
}

func (o *SpinOption) Clone() Option {
	c := *o
	return &c
}

// ComboOption is an enumerated string option.
type ComboOption struct {
	base
	value   string
	def     string
	choices []string
}

func NewCombo(name, value, def string, choices []string) *ComboOption {
	return &ComboOption{base: base{name: name}, value: value, def: def, choices: append([]string(nil), choices...)}
}

func (o *ComboOption) Kind() Kind        { return Combo }
func (o *ComboOption) Value() any        { return o.value }
func (o *ComboOption) DefaultValue() any { return o.def }
func (o *ComboOption) Choices() []string { return append([]string(nil), o.choices...) }
func (o *ComboOption) WireValue() string { return o.value }

func (o *ComboOption) IsValid(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, c := range o.choices {
		if c == s {
			return true
		}
	}
	return false
}

func (o *ComboOption) SetValue(v any) error {
	if !o.IsValid(v) {
		return invalid(o.name, v)
	}
	o.value = v.(string)
	return nil
}

func (o *ComboOption) Declaration(d Dialect) string {
	if d == UCI {
		var b strings.Builder
		fmt.Fprintf(&b, "option name %s type combo default %s", o.wireName(), o.def)
		for _, c := range o.choices {
			b.WriteString(" var ")
			b.WriteString(c)
		}
		return b.String()
	}
	parts := make([]string, len(o.choices))
	for i, c := range o.choices {
		if c == o.def {
			parts[i] = "*" + c
		} else {
			parts[i] = c
		}
	}
	return fmt.Sprintf("%s -combo %s", o.wireName(), strings.Join(parts, " /// "))
}

func (o *ComboOption) Clone() Option {
	c := *o
	c.choices = append([]string(nil), o.choices...)
	return &c
}

// Editor hints how a text option is edited by a front end.
type Editor int

const (
	EditString Editor = iota
	EditFile
	EditPath
)

// TextOption is a free text option.
type TextOption struct {
	base
	value  string
	def    string
	editor Editor
}

func NewText(name, value, def string, editor Editor) *TextOption {
	return &TextOption{base: base{name: name}, value: value, def: def, editor: editor}
}

func (o *TextOption) Kind() Kind        { return Text }
func (o *TextOption) Value() any        { return o.value }
func (o *TextOption) DefaultValue() any { return o.def }
func (o *TextOption) Editor() Editor    { return o.editor }
func (o *TextOption) WireValue() string { return o.value }

func (o *TextOption) IsValid(v any) bool {
	_, ok := v.(string)
	return ok
}

func (o *TextOption) SetValue(v any) error {
	s, ok := v.(string)
	if !ok {
		return invalid(o.name, v)
	}
	o.value = s
	return nil
}

func (o *TextOption) Declaration(d Dialect) string {
	if d == UCI {
		def := o.def
		if def == "" {
			def = "<empty>"
		}
		return fmt.Sprintf("option name %s type string default %s", o.wireName(), def)
	}
	kind := "-string"
	switch o.editor {
	case EditFile:
		kind = "-file"
	case EditPath:
		kind = "-path"
	}
	return fmt.Sprintf("%s %s %s", o.wireName(), kind, o.def)
}

func (o *TextOption) Clone() Option {
	c := *o
	return &c
}

// ButtonOption triggers an action in the engine and carries no value.
type ButtonOption struct {
	base
}

func NewButton(name string) *ButtonOption {
	return &ButtonOption{base: base{name: name}}
}

func (o *ButtonOption) Kind() Kind        { return Button }
func (o *ButtonOption) Value() any        { return nil }
func (o *ButtonOption) DefaultValue() any { return nil }
func (o *ButtonOption) WireValue() string { return "" }

func (o *ButtonOption) IsValid(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func (o *ButtonOption) SetValue(v any) error {
	if !o.IsValid(v) {
		return invalid(o.name, v)
	}
	return nil
}

func (o *ButtonOption) Declaration(d Dialect) string {
	if d == UCI {
		return fmt.Sprintf("option name %s type button", o.wireName())
	}
	return o.wireName() + " -button"
}

func (o *ButtonOption) Clone() Option {
	c := *o
	return &c
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		if t < math.MinInt || t > math.MaxInt {
			return 0, false
		}
		return int(t), true
	case uint:
		if t > math.MaxInt {
			return 0, false
		}
		return int(t), true
	case uint64:
		if t > math.MaxInt {
			return 0, false
		}
		return int(t), true
	case float64:
		// float64(math.MaxInt) rounds up to a power of two that int cannot hold
		if t != math.Trunc(t) || t < math.MinInt || t >= math.MaxInt {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
