// Package svg post-processes vector output before it is persisted, so a
// downstream editor can address individual elements.
package svg

import (
	"regexp"
	"strconv"
)

var (
	pathTagRe = regexp.MustCompile(`<path\b[^>]*?/?>`)
	idAttrRe  = regexp.MustCompile(`\bid\s*=\s*["']`)
)

// AddPathIDs assigns a stable id to every <path> element that lacks one.
// Ids are "path_N" with N the element's 1-based position in document order,
// so the transform is deterministic for identical input and a no-op when
// re-applied to its own output. Elements that already carry an id keep it
// (and still consume their position number).
func AddPathIDs(doc string) string {
	n := 0
	return pathTagRe.ReplaceAllStringFunc(doc, func(tag string) string {
		n++
		if idAttrRe.MatchString(tag) {
			return tag
		}
		return `<path id="path_` + strconv.Itoa(n) + `"` + tag[len("<path"):]
	})
}

// CountPaths returns the number of <path> elements in the document.
func CountPaths(doc string) int {
	return len(pathTagRe.FindAllString(doc, -1))
}
