// Package asm parses line-oriented assembly listings into instruction
// sequences for the cfg builder.
//
// Syntax, one statement per line:
//
//	name:            label definition (may be followed by an instruction)
//	jmp name         unconditional jump
//	je name          conditional jump (any other j* mnemonic, loop*)
//	ret              return (also retq, retn, hlt, ud2)
//	mov rax, rbx     anything else falls through
//
// '#' and ';' start comments.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"cfgbuild/internal/cfg"
)

// Inst is one parsed statement.
type Inst struct {
	Line     int // 1-based source line
	Mnemonic string
	Operands string
	Label    string // defined label, or jump target

	class  cfg.Class
	target uint64
}

func (in *Inst) Class() cfg.Class { return in.class }
func (in *Inst) Target() uint64   { return in.target }

// Text renders the statement in listing syntax.
func (in *Inst) Text() string {
	switch {
	case in.class.IsLabelDefn():
		return in.Label + ":"
	case in.Operands == "":
		return in.Mnemonic
	default:
		return in.Mnemonic + " " + in.Operands
	}
}

// Listing is a parsed instruction sequence. It implements cfg.Code.
type Listing struct {
	Insts []Inst

	ids   map[string]uint64
	names []string
}

func (l *Listing) Len() int                 { return len(l.Insts) }
func (l *Listing) At(i int) cfg.Instruction { return &l.Insts[i] }

// LabelName returns the source name of label id.
func (l *Listing) LabelName(id uint64) (string, bool) {
	if id >= uint64(len(l.names)) {
		return "", false
	}
	return l.names[id], true
}

// LabelID returns the id assigned to a label name.
func (l *Listing) LabelID(name string) (uint64, bool) {
	id, ok := l.ids[name]
	return id, ok
}

// Labels returns label names in id order.
func (l *Listing) Labels() []string {
	return append([]string(nil), l.names...)
}

// intern assigns ids in first-seen order, whether the name is first seen
// as a definition or as a jump target.
func (l *Listing) intern(name string) uint64 {
	if id, ok := l.ids[name]; ok {
		return id
	}
	id := uint64(len(l.names))
	l.ids[name] = id
	l.names = append(l.names, name)
	return id
}

// CallAt returns the callee of a call instruction at index i.
func (l *Listing) CallAt(i int) (string, bool) {
	in := &l.Insts[i]
	switch in.Mnemonic {
	case "call", "callq", "bl":
		if in.Operands != "" {
			return in.Operands, true
		}
	}
	return "", false
}

// SyntaxError reports a malformed statement.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("asm: line %d: %s", e.Line, e.Msg)
}

// ParseString parses a listing held in memory.
func ParseString(src string) (*Listing, error) {
	return Parse(strings.NewReader(src))
}

// Parse reads a listing from r.
func Parse(r io.Reader) (*Listing, error) {
	l := &Listing{ids: make(map[string]uint64)}
	defined := make(map[string]int) // label name → defining line
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	line := 0
	for sc.Scan() {
		line++
		text := stripComment(sc.Text())
		if text == "" {
			continue
		}

		// Leading label, possibly followed by an instruction.
		if name, rest, ok := splitLabel(text); ok {
			if !validLabel(name) {
				return nil, &SyntaxError{Line: line, Msg: fmt.Sprintf("invalid label name %q", name)}
			}
			if first, ok := defined[name]; ok {
				return nil, &SyntaxError{Line: line, Msg: fmt.Sprintf("label %q already defined on line %d", name, first)}
			}
			defined[name] = line
			l.Insts = append(l.Insts, Inst{
				Line:   line,
				Label:  name,
				class:  cfg.LabelDefn,
				target: l.intern(name),
			})
			text = rest
			if text == "" {
				continue
			}
		}

		inst, err := l.parseInst(line, text)
		if err != nil {
			return nil, err
		}
		l.Insts = append(l.Insts, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asm: read: %w", err)
	}
	return l, nil
}

func (l *Listing) parseInst(line int, text string) (Inst, error) {
	mnemonic := strings.Fields(text)[0]
	inst := Inst{
		Line:     line,
		Mnemonic: strings.ToLower(mnemonic),
		Operands: strings.TrimSpace(text[len(mnemonic):]),
	}
	inst.class = classify(inst.Mnemonic)
	if !inst.class.IsJump() {
		return inst, nil
	}

	target := inst.Operands
	if target == "" {
		return Inst{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("%s: missing jump target", inst.Mnemonic)}
	}
	if strings.ContainsAny(target, "*%[]()") {
		return Inst{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("%s: indirect jump to %q", inst.Mnemonic, target)}
	}
	if !validLabel(target) {
		return Inst{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("%s: invalid jump target %q", inst.Mnemonic, target)}
	}
	inst.Label = target
	inst.target = l.intern(target)
	return inst, nil
}

func classify(mnemonic string) cfg.Class {
	switch mnemonic {
	case "jmp", "jmpq":
		return cfg.UncondJump
	case "ret", "retq", "retn", "hlt", "ud2":
		return cfg.Return
	}
	if strings.HasPrefix(mnemonic, "j") || strings.HasPrefix(mnemonic, "loop") {
		return cfg.CondJump
	}
	return cfg.Other
}

func stripComment(s string) string {
	if i := strings.IndexAny(s, "#;"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// splitLabel splits "name: rest". The colon must end the first field.
func splitLabel(s string) (name, rest string, ok bool) {
	field := s
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		field = s[:i]
	}
	if !strings.HasSuffix(field, ":") {
		return "", "", false
	}
	return strings.TrimSuffix(field, ":"), strings.TrimSpace(s[len(field):]), true
}

func validLabel(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '.' || c == '$' {
			continue
		}
		return false
	}
	return true
}
