package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookDSL = `
# библиотека
entity Book:
  title: string required max_length=200 pattern='^[A-Z].*$'
  pages: int indexed min=1 positive
  genre: enum[novel, poem] filterable
  status: select enum=book_status
  labels: multienum[a,b]
  author: ref[Author] indexed
  shelves: refs[Shelf]
  released: date max_date=now label="Дата выхода"

entity Author:
  name: string required
`

func TestParse(t *testing.T) {
	defs, err := Parse(strings.NewReader(bookDSL))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	book := defs[0]
	assert.Equal(t, "Book", book.EntityType)
	require.Len(t, book.Fields, 8)

	title := book.Fields[0]
	assert.Equal(t, String, title.Type)
	assert.True(t, title.Required)
	require.NotNil(t, title.Validation.MaxLength)
	assert.Equal(t, 200, *title.Validation.MaxLength)
	assert.Equal(t, "^[A-Z].*$", title.Validation.Pattern)

	pages := book.Fields[1]
	assert.Equal(t, Integer, pages.Type)
	assert.True(t, pages.Indexed)
	assert.True(t, pages.Validation.Positive)

	genre := book.Fields[2]
	assert.Equal(t, Select, genre.Type)
	vals, ok := genre.Validation.FixedOptions()
	require.True(t, ok)
	assert.Equal(t, []string{"novel", "poem"}, vals)

	assert.Equal(t, "book_status", book.Fields[3].Validation.EnumName())
	assert.Equal(t, MultiSelect, book.Fields[4].Type)

	assert.Equal(t, ManyToOne, book.Fields[5].Type)
	assert.Equal(t, "Author", book.Fields[5].Validation.TargetClass)
	assert.Equal(t, ManyToMany, book.Fields[6].Type)

	released := book.Fields[7]
	assert.Equal(t, NowLiteral, released.Validation.MaxDate)
	assert.Equal(t, "Дата выхода", released.DisplayName)

	for _, d := range defs {
		assert.NoError(t, Check(d))
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"field outside entity": "title: string\n",
		"unknown type":         "entity A:\n  x: money\n",
		"unknown flag":         "entity A:\n  x: string unique\n",
		"bad number":           "entity A:\n  x: int min=abc\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadDirRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dsl"), []byte("entity Book:\n  t: string\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dsl"), []byte("entity book:\n  t: string\n"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate entity")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.dsl"), []byte(bookDSL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}
