package cfg

// Class is the control-flow classification of an instruction.
type Class uint8

const (
	Other      Class = iota // falls through to the next instruction
	LabelDefn               // defines a label; Target is the label id
	CondJump                // conditional jump to label Target
	UncondJump              // unconditional jump to label Target
	Return                  // leaves the function
)

var classNames = [...]string{
	Other:      "other",
	LabelDefn:  "label",
	CondJump:   "cjump",
	UncondJump: "jump",
	Return:     "ret",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "class?"
}

func (c Class) IsLabelDefn() bool  { return c == LabelDefn }
func (c Class) IsJump() bool       { return c == CondJump || c == UncondJump }
func (c Class) IsCondJump() bool   { return c == CondJump }
func (c Class) IsUncondJump() bool { return c == UncondJump }
func (c Class) IsReturn() bool     { return c == Return }

// Instruction is the view of an instruction the builder needs.
// Target is only consulted for label definitions and jumps.
type Instruction interface {
	Class() Class
	Target() uint64
}

// Code is an ordered, zero-indexed instruction sequence. The builder
// borrows it; it must not change while Recompute runs.
type Code interface {
	Len() int
	At(i int) Instruction
}

// Seq adapts a slice of instructions to Code.
type Seq []Instruction

func (s Seq) Len() int { return len(s) }
func (s Seq) At(i int) Instruction { return s[i] }
