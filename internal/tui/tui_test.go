package tui

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fakeyudi/tuick/internal/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []block.Block{
	{Content: "checking..."},
	{Location: &block.Location{File: "a.go", Line: 3, Column: 1}, Content: "a.go:3:1: unused\n  detail"},
	{Location: &block.Location{File: "b.go", Line: 9}, Content: "b.go:9: bad"},
}

func loaded(t *testing.T, blocks []block.Block, open Opener) Model {
	t.Helper()
	m := New("make", func(context.Context) ([]block.Block, error) { return blocks, nil }, open)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 10})
	msg := next.(Model).Init()()
	next, _ = next.Update(msg)
	return next.(Model)
}

func press(m Model, key string) (Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "end":
		msg = tea.KeyMsg{Type: tea.KeyEnd}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNavigation(t *testing.T) {
	m := loaded(t, sample, nil)
	require.Len(t, m.Blocks(), 3)
	assert.Equal(t, 0, m.Cursor())

	m, _ = press(m, "down")
	m, _ = press(m, "j")
	m, _ = press(m, "down")
	assert.Equal(t, 2, m.Cursor())

	m, _ = press(m, "up")
	assert.Equal(t, 1, m.Cursor())

	m, _ = press(m, "end")
	assert.Equal(t, 2, m.Cursor())
	assert.Contains(t, m.View(), "3/3")
}

func TestEnterOnInformationalIsNoop(t *testing.T) {
	called := false
	m := loaded(t, sample, func(*block.Location) (*exec.Cmd, error) {
		called = true
		return exec.Command("true"), nil
	})
	_, cmd := press(m, "enter")
	assert.Nil(t, cmd)
	assert.False(t, called)
}

func TestEnterOpensLocation(t *testing.T) {
	var got *block.Location
	m := loaded(t, sample, func(loc *block.Location) (*exec.Cmd, error) {
		got = loc
		return exec.Command("true"), nil
	})
	m, _ = press(m, "down")
	_, cmd := press(m, "enter")
	require.NotNil(t, cmd)
	assert.Equal(t, "a.go", got.File)
	assert.Equal(t, 3, got.Line)
}

func TestOpenErrorShown(t *testing.T) {
	m := loaded(t, sample, func(*block.Location) (*exec.Cmd, error) {
		return nil, errors.New("unsupported editor: ed")
	})
	m, _ = press(m, "down")
	_, cmd := press(m, "enter")
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	assert.Contains(t, next.(Model).View(), "unsupported editor")
}

func TestQuitAborts(t *testing.T) {
	m := loaded(t, sample, nil)
	m, cmd := press(m, "q")
	assert.True(t, m.Aborted())
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestEmptyListQuits(t *testing.T) {
	m := New("make", func(context.Context) ([]block.Block, error) { return nil, nil }, nil)
	_, cmd := m.Update(loadedMsg{})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestReload(t *testing.T) {
	calls := 0
	m := New("make", func(context.Context) ([]block.Block, error) {
		calls++
		return sample[:calls], nil
	}, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 10})
	next, _ = next.Update(next.(Model).Init()())
	m = next.(Model)
	assert.Len(t, m.Blocks(), 1)

	m, cmd := press(m, "r")
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Running...")
	next, _ = m.Update(cmd())
	assert.Len(t, next.(Model).Blocks(), 2)
}
