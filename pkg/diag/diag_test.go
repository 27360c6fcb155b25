package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasErrorsOnlyCountsErrorSeverity(t *testing.T) {
	var m Messages
	m.Warning(Location{File: "a.s", Line: 1, Column: 1}, "shadowed label %q", "foo")
	assert.False(t, m.HasErrors())
	m.Error(Location{File: "a.s", Line: 2, Column: 5}, "undefined symbol %q", "bar")
	assert.True(t, m.HasErrors())
}

func TestMessageRendering(t *testing.T) {
	m := Message{Severity: SeverityError, Location: Location{File: "a.s", Line: 3, Column: 1}, Text: "boom"}
	assert.Equal(t, "a.s:3:1: error: boom", m.String())
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	var m Messages
	m.Info(Location{File: "a.s", Line: 1}, "first")
	m.Warning(Location{File: "a.s", Line: 2}, "second")
	m.Error(Location{File: "a.s", Line: 3}, "third")
	all := m.All()
	assert.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Text)
	assert.Equal(t, "third", all[2].Text)
}
