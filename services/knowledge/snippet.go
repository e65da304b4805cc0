// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"regexp"
	"strings"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
)

// markdownImageRE matches embedded markdown image syntax ![alt](url).
var markdownImageRE = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// ParseSnippet converts one raw text item into a snippet, lifting embedded
// markdown images into structured references. The image syntax is removed
// from the snippet text so prompts stay clean.
func ParseSnippet(text string) datatypes.KnowledgeSnippet {
	matches := markdownImageRE.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return datatypes.KnowledgeSnippet{Text: text}
	}

	images := make([]datatypes.ImageRef, 0, len(matches))
	for _, m := range matches {
		images = append(images, datatypes.ImageRef{Alt: m[1], URL: m[2]})
	}
	cleaned := strings.TrimSpace(markdownImageRE.ReplaceAllString(text, ""))
	return datatypes.KnowledgeSnippet{Text: cleaned, Images: images}
}

// imagesFromList converts the response's imageList entries. An entry in
// markdown image syntax keeps its alt text; any other non-empty string is
// treated as a bare image URL.
func imagesFromList(items []string) []datatypes.ImageRef {
	images := make([]datatypes.ImageRef, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if m := markdownImageRE.FindStringSubmatch(item); m != nil {
			images = append(images, datatypes.ImageRef{Alt: m[1], URL: m[2]})
			continue
		}
		images = append(images, datatypes.ImageRef{URL: item})
	}
	return images
}
