package codeindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/memory"
)

func TestExtractSymbolsGoFunctionsAndTypes(t *testing.T) {
	src := `package widgets

// New constructs a Widget.
func New(name string) *Widget {
	return &Widget{name: name}
}

type Widget struct {
	name string
}

func (w *Widget) Name() string {
	return w.name
}

type Renderer interface {
	Render() string
}

const DefaultSize = 10
`
	symbols := ExtractSymbols("widgets.go", "go", src)
	require.NotEmpty(t, symbols)

	byName := map[string]memory.Symbol{}
	for _, s := range symbols {
		byName[s.Name] = s
	}

	require.Contains(t, byName, "New")
	assert.Equal(t, memory.SymbolFunction, byName["New"].Kind)
	assert.Equal(t, "New constructs a Widget.", byName["New"].DocComment)

	require.Contains(t, byName, "Widget")
	assert.Equal(t, memory.SymbolClass, byName["Widget"].Kind)

	require.Contains(t, byName, "Name")
	assert.Equal(t, memory.SymbolMethod, byName["Name"].Kind)

	require.Contains(t, byName, "Renderer")
	assert.Equal(t, memory.SymbolInterface, byName["Renderer"].Kind)

	require.Contains(t, byName, "DefaultSize")
	assert.Equal(t, memory.SymbolConst, byName["DefaultSize"].Kind)
}

func TestExtractSymbolsGoBraceDepthEnd(t *testing.T) {
	src := `package widgets

func Outer() {
	if true {
		doSomething()
	}
}

func After() {}
`
	symbols := ExtractSymbols("widgets.go", "go", src)
	var outer, after memory.Symbol
	for _, s := range symbols {
		switch s.Name {
		case "Outer":
			outer = s
		case "After":
			after = s
		}
	}
	require.NotZero(t, outer.LineEnd)
	assert.Less(t, outer.LineEnd, after.LineStart)
}

func TestExtractSymbolsSkipsDenylistedNames(t *testing.T) {
	src := `function new() {}
function if() {}
`
	symbols := ExtractSymbols("bad.js", "javascript", src)
	assert.Empty(t, symbols)
}

func TestExtractSymbolsPythonIndentEnd(t *testing.T) {
	src := `def outer():
    value = 1
    if value:
        return value

def after():
    pass
`
	symbols := ExtractSymbols("mod.py", "python", src)
	var outer, after memory.Symbol
	for _, s := range symbols {
		switch s.Name {
		case "outer":
			outer = s
		case "after":
			after = s
		}
	}
	require.NotZero(t, outer.LineStart)
	assert.Less(t, outer.LineEnd, after.LineStart)
}

func TestExtractSymbolsRubyEndDepth(t *testing.T) {
	src := `class Widget
  def initialize(name)
    @name = name
  end

  def render
    if @name
      @name
    end
  end
end

def after
end
`
	symbols := ExtractSymbols("widget.rb", "ruby", src)
	byName := map[string]memory.Symbol{}
	for _, s := range symbols {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "render")
	require.Contains(t, byName, "after")
	assert.Less(t, byName["render"].LineEnd, byName["after"].LineStart)
}

func TestExtractSymbolsUnknownLanguageReturnsNil(t *testing.T) {
	symbols := ExtractSymbols("data.json", "json", `{"a": 1}`)
	assert.Nil(t, symbols)
}
