package state

import "strings"

// Merge applies an incoming partial update to a base project and returns the
// combined result. The contract is right-biased-but-null-safe: an incoming
// value wins only when it is non-empty, so a contributor that did not touch a
// field can never erase it. Merge is idempotent and never regresses populated
// data; the only "removal" it performs is replacing a generic term with a more
// specific one that subsumes it.
//
// Materials and techniques are mutually exclusive: a term already recorded in
// one set is rejected from the other (first writer wins). Within a delta,
// materials claim contested terms before techniques do.
func Merge(base Project, in Delta) Project {
	out := base.Clone()

	if in.Title != "" {
		out.Title = in.Title
	}
	if in.Description != "" {
		out.Description = in.Description
	}
	if in.SEOTitle != "" {
		out.SEOTitle = in.SEOTitle
	}
	if in.SEODescription != "" {
		out.SEODescription = in.SEODescription
	}
	if in.Problem != "" {
		out.Problem = in.Problem
	}
	if in.Solution != "" {
		out.Solution = in.Solution
	}
	if in.Highlight != "" {
		out.Highlight = in.Highlight
	}

	out.Materials = mergeTerms(out.Materials, in.Materials, out.Techniques)
	out.Techniques = mergeTerms(out.Techniques, in.Techniques, out.Materials)
	out.Tags = mergeTerms(out.Tags, in.Tags, nil)

	out.Images = mergeImages(out.Images, in.Images)
	if len(in.ImageOrder) > 0 {
		out.Images = applyOrder(out.Images, in.ImageOrder)
	}

	if in.HeroImageID != "" && hasImageID(out.Images, in.HeroImageID) {
		out.HeroImageID = in.HeroImageID
	}

	for k, v := range in.Extracted {
		if k == "" || v == "" {
			continue
		}
		if out.Extracted == nil {
			out.Extracted = make(map[string]string)
		}
		out.Extracted[k] = v
	}

	return out
}

// Combine folds delta b over delta a so a sequence of tool outputs collapses
// into one delta. Dedup policy is not applied here; it runs once, at the
// Merge boundary.
func Combine(a, b Delta) Delta {
	out := a
	if b.Title != "" {
		out.Title = b.Title
	}
	if b.Description != "" {
		out.Description = b.Description
	}
	if b.SEOTitle != "" {
		out.SEOTitle = b.SEOTitle
	}
	if b.SEODescription != "" {
		out.SEODescription = b.SEODescription
	}
	if b.Problem != "" {
		out.Problem = b.Problem
	}
	if b.Solution != "" {
		out.Solution = b.Solution
	}
	if b.Highlight != "" {
		out.Highlight = b.Highlight
	}
	out.Tags = appendNewTerms(out.Tags, b.Tags)
	out.Materials = appendNewTerms(out.Materials, b.Materials)
	out.Techniques = appendNewTerms(out.Techniques, b.Techniques)
	out.Images = mergeImages(out.Images, b.Images)
	if len(b.ImageOrder) > 0 {
		out.ImageOrder = cloneStrings(b.ImageOrder)
	}
	if b.HeroImageID != "" {
		out.HeroImageID = b.HeroImageID
	}
	for k, v := range b.Extracted {
		if k == "" || v == "" {
			continue
		}
		if out.Extracted == nil {
			out.Extracted = make(map[string]string)
		}
		out.Extracted[k] = v
	}
	return out
}

// NormalizeTerm lowercases a term and collapses interior whitespace. Set
// membership is always decided on normalized forms.
func NormalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Subsumes reports whether the specific term contains the generic term as a
// whole-word phrase ("red clay brick" subsumes "brick" but not "rick").
// Both terms must already be normalized.
func Subsumes(specific, generic string) bool {
	if specific == generic || generic == "" {
		return false
	}
	return strings.Contains(" "+specific+" ", " "+generic+" ")
}

// mergeTerms unions incoming terms into an existing set under the dedup
// policy: an incoming term that subsumes an existing one replaces it
// (specific beats generic), an incoming term subsumed by or equal to an
// existing one is rejected, and a term already claimed by the exclusive
// sibling set is rejected outright.
func mergeTerms(existing, incoming, exclusive []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	out := append([]string(nil), existing...)
	for _, raw := range incoming {
		term := NormalizeTerm(raw)
		if term == "" || containsTerm(exclusive, term) {
			continue
		}
		rejected := false
		kept := make([]string, 0, len(out)+1)
		for _, ex := range out {
			switch {
			case ex == term:
				rejected = true
				kept = append(kept, ex)
			case Subsumes(term, ex):
				// incoming is the more specific phrasing; drop the generic
			case Subsumes(ex, term):
				rejected = true
				kept = append(kept, ex)
			default:
				kept = append(kept, ex)
			}
		}
		out = kept
		if !rejected {
			out = append(out, term)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// appendNewTerms appends normalized terms not already present, without
// applying subsumption. Used by Combine, which defers full dedup to Merge.
func appendNewTerms(existing, incoming []string) []string {
	out := existing
	for _, raw := range incoming {
		term := NormalizeTerm(raw)
		if term == "" || containsTerm(out, term) {
			continue
		}
		out = append(out, term)
	}
	return out
}

func containsTerm(set []string, term string) bool {
	for _, s := range set {
		if s == term {
			return true
		}
	}
	return false
}

// mergeImages merges incoming images by id: known ids update their non-empty
// fields in place, unknown ids append at the end. Ordering changes only
// through an explicit ImageOrder.
func mergeImages(existing, incoming []Image) []Image {
	if len(incoming) == 0 {
		return existing
	}
	out := append([]Image(nil), existing...)
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		idx := -1
		for i := range out {
			if out[i].ID == in.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			in.Order = len(out)
			out = append(out, in)
			continue
		}
		if in.URL != "" {
			out[idx].URL = in.URL
		}
		if in.Role != "" {
			out[idx].Role = in.Role
		}
		if in.AltText != "" {
			out[idx].AltText = in.AltText
		}
	}
	return out
}

// applyOrder rewrites image ordering wholesale. Listed ids come first in the
// given order; unlisted images keep their relative order after them. Unknown
// ids are ignored; permutation validation is the reorder tool's job.
func applyOrder(imgs []Image, ids []string) []Image {
	if len(imgs) == 0 {
		return imgs
	}
	byID := make(map[string]int, len(imgs))
	for i, img := range imgs {
		byID[img.ID] = i
	}
	out := make([]Image, 0, len(imgs))
	taken := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := taken[id]; dup {
			continue
		}
		if i, ok := byID[id]; ok {
			out = append(out, imgs[i])
			taken[id] = struct{}{}
		}
	}
	for _, img := range imgs {
		if _, ok := taken[img.ID]; !ok {
			out = append(out, img)
		}
	}
	for i := range out {
		out[i].Order = i
	}
	return out
}

func hasImageID(imgs []Image, id string) bool {
	for _, img := range imgs {
		if img.ID == id {
			return true
		}
	}
	return false
}
