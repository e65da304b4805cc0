// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnippet_PlainText(t *testing.T) {
	t.Parallel()

	s := ParseSnippet("just text, no images")
	assert.Equal(t, "just text, no images", s.Text)
	assert.Empty(t, s.Images)
}

func TestParseSnippet_ExtractsMarkdownImages(t *testing.T) {
	t.Parallel()

	s := ParseSnippet("Error screen ![ora error](https://cdn.example.com/ora.png) shown when the table is missing")

	require.Len(t, s.Images, 1)
	assert.Equal(t, "ora error", s.Images[0].Alt)
	assert.Equal(t, "https://cdn.example.com/ora.png", s.Images[0].URL)
	assert.NotContains(t, s.Text, "![")
	assert.Contains(t, s.Text, "shown when the table is missing")
}

func TestParseSnippet_MultipleImages(t *testing.T) {
	t.Parallel()

	s := ParseSnippet("![a](http://x/1.png) and ![b](http://x/2.png)")
	require.Len(t, s.Images, 2)
	assert.Equal(t, "http://x/1.png", s.Images[0].URL)
	assert.Equal(t, "http://x/2.png", s.Images[1].URL)
}

func TestImagesFromList_SkipsEmptyEntries(t *testing.T) {
	t.Parallel()

	images := imagesFromList([]string{"", "  ", "http://x/a.png"})
	require.Len(t, images, 1)
	assert.Equal(t, "http://x/a.png", images[0].URL)
}
