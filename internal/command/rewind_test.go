package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/render"
	"github.com/joeycumines/liveeval/internal/store"
)

func rewindFixture(t *testing.T) (*rewindModel, *store.Store) {
	t.Helper()
	st := store.New(store.Options{})
	st.Reset(1)
	require.True(t, st.SetContexts(1, []instrument.CaptureContext{
		{ID: 1, Kind: instrument.KindVariable, File: "main.js", LineStart: 1, LineEnd: 1, ColStart: 7, ColEnd: 12, Name: "x"},
		{ID: 2, Kind: instrument.KindLoopVariable, File: "main.js", LineStart: 2, LineEnd: 2, ColStart: 10, ColEnd: 11, Name: "i"},
	}))
	for _, p := range []protocol.Payload{
		{ID: 1, ContextID: 1, Result: marshal.Number(1)},
		{ID: 2, ContextID: 2, Result: marshal.Number(0)},
		{ID: 3, ContextID: 2, Result: marshal.Number(1)},
	} {
		require.True(t, st.Add(1, p))
	}
	require.True(t, st.MarkComplete(1))

	p := build.Project{Files: map[string]string{"main.js": "const x = 1;\nfor (let i = 0; i < 2; i++) {}\n"}}
	return newRewindModel(st, p, store.All, render.PlainStyles()), st
}

func press(m *rewindModel, key tea.KeyMsg) (*rewindModel, tea.Cmd) {
	next, cmd := m.Update(key)
	return next.(*rewindModel), cmd
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestRewindModel_Navigation(t *testing.T) {
	t.Parallel()

	m, st := rewindFixture(t)
	view := m.View()
	assert.Contains(t, view, "x = 1")
	assert.Contains(t, view, "i = 1")
	assert.Contains(t, view, "| live")
	assert.Contains(t, view, "run 1 ok: 3 payloads")

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyLeft})
	require.NotNil(t, st.Rewind().Current)
	assert.EqualValues(t, 3, *st.Rewind().Current, "stepping back enters at the newest payload")
	assert.Contains(t, m.View(), "step 3/3: Loop Variable main.js:2 i = 1")

	m, _ = press(m, runes("h"))
	view = m.View()
	assert.Contains(t, view, "i = 0")
	assert.NotContains(t, view, "i = 1")
	assert.Contains(t, view, "step 2/3")
	assert.Equal(t, 1, m.bar.Position)

	m, _ = press(m, runes("g"))
	view = m.View()
	assert.Contains(t, view, "x = 1")
	assert.NotContains(t, view, "i = ")
	assert.Contains(t, view, "step 1/3: Variable main.js:1 x = 1")

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyRight})
	assert.Contains(t, m.View(), "step 2/3")

	m, _ = press(m, runes("G"))
	assert.Contains(t, m.View(), "step 3/3")

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, st.Rewind().Active)
	assert.Contains(t, m.View(), "| live")
	assert.Equal(t, -1, m.bar.Position)
}

func TestRewindModel_Resize(t *testing.T) {
	t.Parallel()

	m, _ := rewindFixture(t)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	m = next.(*rewindModel)
	assert.Equal(t, 40, m.viewport.Width)
	assert.Equal(t, 7, m.viewport.Height)
	assert.Equal(t, 40, m.bar.Width)
	assert.Equal(t, 3, m.bar.Total)
}

func TestRewindModel_Quit(t *testing.T) {
	t.Parallel()

	m, _ := rewindFixture(t)
	_, cmd := press(m, runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestRewindModel_MarksErrors(t *testing.T) {
	t.Parallel()

	m, st := rewindFixture(t)
	require.True(t, st.Add(1, protocol.Payload{ID: 4, ContextID: 1, IsError: true, Result: marshal.String("boom")}))
	next, _ := m.Update(storeChangedMsg{})
	m = next.(*rewindModel)
	assert.Equal(t, map[int]bool{3: true}, m.bar.Marks)
}
