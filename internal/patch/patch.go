// Package patch computes and applies reversible text patches between a
// baseline string and a modified string. The patch format is opaque to
// callers; they create, apply, and serialize patches through this package
// only.
package patch

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Patch is a serialized-friendly diff transforming one exact baseline into
// one exact modified string.
type Patch struct {
	patches []diffmatchpatch.Patch
}

// Empty reports whether the patch carries no changes.
func (p Patch) Empty() bool {
	return len(p.patches) == 0
}

// Text renders the patch in its wire form for storage.
func (p Patch) Text() string {
	return diffmatchpatch.New().PatchToText(p.patches)
}

// Parse restores a patch from its wire form.
func Parse(text string) (Patch, error) {
	if text == "" {
		return Patch{}, nil
	}
	patches, err := diffmatchpatch.New().PatchFromText(text)
	if err != nil {
		return Patch{}, fmt.Errorf("parse patch: %w", err)
	}
	return Patch{patches: patches}, nil
}

// Create computes the patch from baseline to modified.
func Create(baseline, modified string) Patch {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(baseline, modified, false)
	return Patch{patches: dmp.PatchMake(baseline, diffs)}
}

// Apply materializes the modified string from the baseline. It fails when
// any hunk cannot land, which a caller should treat as a divergence to
// surface rather than silently accept.
func Apply(baseline string, p Patch) (string, error) {
	if p.Empty() {
		return baseline, nil
	}
	result, applied := diffmatchpatch.New().PatchApply(p.patches, baseline)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("apply patch: hunk %d did not match baseline", i)
		}
	}
	return result, nil
}
