package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(b *FragmentBuffer, parts ...string) []string {
	var out []string
	for _, p := range parts {
		objs, _ := b.Write([]byte(p))
		for _, o := range objs {
			out = append(out, string(o))
		}
	}
	return out
}

func TestFragmentBufferSingleObjects(t *testing.T) {
	b := NewFragmentBuffer(0)
	got := collect(b, `{"a":1}`, `{"b":2}`)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
	assert.False(t, b.Pending())
}

func TestFragmentBufferSplitAndConcatenated(t *testing.T) {
	b := NewFragmentBuffer(0)
	got := collect(b, `{"a":{"n`, `ested":[1,{"x":2}]}}`+"\n"+`{"b":`, `2}`+"\r\n")
	assert.Equal(t, []string{`{"a":{"nested":[1,{"x":2}]}}`, `{"b":2}`}, got)
	assert.False(t, b.Pending())
}

func TestFragmentBufferBracesInsideStrings(t *testing.T) {
	b := NewFragmentBuffer(0)
	got := collect(b, `{"text":"curly } and { and \"quoted }\" and \\"}`)
	require.Len(t, got, 1)
	assert.Equal(t, `{"text":"curly } and { and \"quoted }\" and \\"}`, got[0])
}

func TestFragmentBufferEscapeSplitAcrossReads(t *testing.T) {
	b := NewFragmentBuffer(0)
	got := collect(b, `{"t":"a\`, `"}"}`)
	assert.Equal(t, []string{`{"t":"a\"}"}`}, got)
}

func TestFragmentBufferIgnoresNoiseBetweenObjects(t *testing.T) {
	b := NewFragmentBuffer(0)
	got := collect(b, ` , ]} garbage {"ok":true} trailing`)
	assert.Equal(t, []string{`{"ok":true}`}, got)
}

func TestFragmentBufferPendingAndReset(t *testing.T) {
	b := NewFragmentBuffer(0)
	assert.Empty(t, collect(b, `{"open":`))
	assert.True(t, b.Pending())

	b.Reset()
	assert.False(t, b.Pending())
	assert.Equal(t, []string{`{"x":1}`}, collect(b, `{"x":1}`))
}

func TestFragmentBufferOverflow(t *testing.T) {
	b := NewFragmentBuffer(16)

	_, overflow := b.Write([]byte(`{"big":"` + strings.Repeat("x", 32)))
	assert.True(t, overflow)
	assert.False(t, b.Pending())

	objs, overflow := b.Write([]byte(`xx"}{"s":1}`))
	assert.False(t, overflow)
	require.Len(t, objs, 1)
	assert.Equal(t, `{"s":1}`, string(objs[0]))
}

func TestFragmentBufferSkipsRestOfOversizedObject(t *testing.T) {
	b := NewFragmentBuffer(16)

	_, overflow := b.Write([]byte(`{"text":"` + strings.Repeat("a", 24)))
	require.True(t, overflow)

	// Braces and quotes inside the dropped tail must not open a new object.
	objs, overflow := b.Write([]byte(`bb{cc\"}"}` + "\n" + `{"text":"ok"}` + "\n"))
	assert.False(t, overflow)
	require.Len(t, objs, 1)
	assert.Equal(t, `{"text":"ok"}`, string(objs[0]))
	assert.False(t, b.Pending())
}

func TestFragmentBufferOverflowInsideNestedObject(t *testing.T) {
	b := NewFragmentBuffer(16)

	_, overflow := b.Write([]byte(`{"toolCalls":[{"functionCall":{"name":"f"`))
	require.True(t, overflow)
	assert.False(t, b.Pending())

	assert.Empty(t, collect(b, `,"arguments":{"a":1}}`))
	assert.Equal(t, []string{`{"n":2}`}, collect(b, `}]}`, `{"n":2}`))
}

func TestFragmentBufferResetEndsDiscard(t *testing.T) {
	b := NewFragmentBuffer(8)
	_, overflow := b.Write([]byte(`{"big":"xxxxxxxxxx`))
	require.True(t, overflow)
	assert.False(t, b.Pending())

	b.Reset()
	assert.Equal(t, []string{`{"x":1}`}, collect(b, `{"x":1}`))
}
