package asm

import "github.com/bassosimone/armcore/pkg/value"

// symbolTable is the assembler's global symbol scope: spec.md 3 notes
// "separate scopes are not in core; globals only."
type symbolTable struct {
	values map[string]int64
}

func newSymbolTable() *symbolTable {
	return &symbolTable{values: make(map[string]int64)}
}

func (t *symbolTable) define(name string, value int64) { t.values[name] = value }

func (t *symbolTable) lookup(name string) (int64, bool) {
	v, ok := t.values[name]
	return v, ok
}

// exprContext adapts the symbol table and a fixed location-counter value
// into an expr.Context, one per statement (each statement sees its own
// address as `$`).
type exprContext struct {
	syms *symbolTable
	pc   int64
}

func (c exprContext) Resolve(name string) (value.Value, bool) {
	v, ok := c.syms.lookup(name)
	if !ok {
		return value.Unset, false
	}
	return value.NewInt64(v), true
}

func (c exprContext) Location() value.Value { return value.NewInt64(c.pc) }
