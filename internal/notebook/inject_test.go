package notebook

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notebookWithCells(cells ...string) []byte {
	doc := `{"cells": [` + joinCells(cells) + `], "metadata": {"kernelspec": {"name": "python3"}}, "nbformat": 4, "nbformat_minor": 5}`
	return []byte(doc)
}

func joinCells(cells []string) string {
	out := ""
	for i, c := range cells {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

const paramCell = `{"cell_type": "code", "execution_count": 3, "metadata": {"tags": ["parameters"]}, "outputs": [{"output_type": "stream"}], "source": ["epochs = 1\n", "lr = 0.1"]}`

const plainCell = `{"cell_type": "code", "metadata": {}, "outputs": [], "source": ["print(epochs)"]}`

const markdownCell = `{"cell_type": "markdown", "metadata": {}, "source": ["# Training"]}`

func TestInjectBindsParameters(t *testing.T) {
	out, err := Inject(notebookWithCells(markdownCell, paramCell, plainCell), map[string]any{
		"epochs": 5,
		"name":   "resnet",
	})
	require.NoError(t, err)

	var doc struct {
		Cells []struct {
			CellType string   `json:"cell_type"`
			Source   []string `json:"source"`
		} `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Cells, 3)

	injected := doc.Cells[1]
	require.Equal(t, "code", injected.CellType)
	assert.Equal(t, []string{
		"# Parameters\n",
		"epochs = 5\n",
		`name = "resnet"`,
	}, injected.Source)

	// Surrounding cells keep their order and content.
	assert.Equal(t, "markdown", doc.Cells[0].CellType)
	assert.Equal(t, []string{"print(epochs)"}, doc.Cells[2].Source)
}

func TestInjectClearsStaleOutputs(t *testing.T) {
	out, err := Inject(notebookWithCells(paramCell), map[string]any{"epochs": 5})
	require.NoError(t, err)

	var doc struct {
		Cells []struct {
			Outputs        []any `json:"outputs"`
			ExecutionCount *int  `json:"execution_count"`
		} `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Empty(t, doc.Cells[0].Outputs)
	assert.Nil(t, doc.Cells[0].ExecutionCount)
}

func TestInjectDeterministic(t *testing.T) {
	template := notebookWithCells(markdownCell, paramCell, plainCell)
	params := map[string]any{"epochs": 5, "lr": 0.01, "tags": []any{"a", "b"}}

	first, err := Inject(template, params)
	require.NoError(t, err)
	second, err := Inject(template, params)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second), "same inputs must produce byte-identical output")
}

func TestInjectDoesNotMutateInput(t *testing.T) {
	template := notebookWithCells(paramCell)
	original := make([]byte, len(template))
	copy(original, template)

	_, err := Inject(template, map[string]any{"epochs": 5})
	require.NoError(t, err)
	assert.Equal(t, original, template)
}

func TestInjectRejectsAmbiguousParameterCell(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
	}{
		{name: "no parameters cell", cells: []string{plainCell, markdownCell}},
		{name: "two parameters cells", cells: []string{paramCell, plainCell, paramCell}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Inject(notebookWithCells(tt.cells...), map[string]any{"x": 1})
			require.ErrorIs(t, err, ErrAmbiguousParameterCell)
			assert.Nil(t, out)
		})
	}
}

func TestInjectRejectsMalformedNotebook(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: `{"cells": [`},
		{name: "missing cells", content: `{"metadata": {}}`},
		{name: "cells not a list", content: `{"cells": {"a": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inject([]byte(tt.content), nil)
			require.ErrorIs(t, err, ErrMalformedNotebook)
		})
	}
}

func TestRenderValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "string", in: "hello", want: `"hello"`},
		{name: "int", in: 42, want: "42"},
		{name: "float", in: 0.5, want: "0.5"},
		{name: "true", in: true, want: "True"},
		{name: "false", in: false, want: "False"},
		{name: "nil", in: nil, want: "None"},
		{name: "list", in: []any{1, "a", true}, want: `[1, "a", True]`},
		{name: "map", in: map[string]any{"b": 2, "a": nil}, want: `{"a": None, "b": 2}`},
		{name: "nested", in: map[string]any{"xs": []any{false}}, want: `{"xs": [False]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderValue(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(notebookWithCells(plainCell)))
	assert.ErrorIs(t, Validate([]byte(`{"cells": []}`)), ErrMalformedNotebook)
	assert.ErrorIs(t, Validate([]byte(`not a notebook`)), ErrMalformedNotebook)
}
