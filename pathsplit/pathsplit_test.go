package pathsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(path string, sep byte) []string {
	var segs []string
	split := New(path, sep)
	for {
		seg, ok := split.Next()
		if !ok {
			return segs
		}
		segs = append(segs, seg)
	}
}

func TestBasic(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, collect("/a/b/c", '/'))
}

func TestTrims(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, collect("//a//b//c//", '/'))
}

func TestSeparatorsOnly(t *testing.T) {
	assert.Nil(t, collect("::::", ':'))
}

func TestEmpty(t *testing.T) {
	assert.Nil(t, collect("", '/'))
}

func TestOne(t *testing.T) {
	assert.Equal(t, []string{"x"}, collect("x", '/'))
}

func TestMore(t *testing.T) {
	split := New("a/b/", '/')
	assert.True(t, split.More())

	seg, ok := split.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", seg)
	assert.True(t, split.More())

	seg, ok = split.Next()
	assert.True(t, ok)
	assert.Equal(t, "b", seg)
	assert.False(t, split.More())

	_, ok = split.Next()
	assert.False(t, ok)
}

func TestOtherSeparator(t *testing.T) {
	assert.Equal(t, []string{"a/b", "c"}, collect("a/b:c", ':'))
}
