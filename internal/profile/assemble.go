// Package profile merges and normalizes profile records. Everything here is
// pure: inputs are never mutated in place.
package profile

import (
	"encoding/json"
	"strings"

	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/scrape/util"
)

// Merge overlays update onto base. A populated field is never replaced by an
// empty one.
func Merge(base, update domain.ProfileRecord) domain.ProfileRecord {
	out := clone(base)
	str := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	str(&out.CandidateName, update.CandidateName)
	str(&out.CurrentTitle, update.CurrentTitle)
	str(&out.CurrentCompany, update.CurrentCompany)
	str(&out.LinkedInURL, update.LinkedInURL)
	str(&out.LocationCompatibility, update.LocationCompatibility)
	str(&out.CandidateDescription, update.CandidateDescription)
	str(&out.About, update.About)
	str(&out.Source, update.Source)

	if len(update.Education) > 0 {
		out.Education = cloneItems(update.Education)
	}
	if len(update.Experience) > 0 {
		out.Experience = cloneItems(update.Experience)
	}
	if len(update.Skills) > 0 {
		out.Skills = cloneSkills(update.Skills)
	}
	return out
}

// Normalize coerces absent lists to empty ones.
func Normalize(rec domain.ProfileRecord) domain.ProfileRecord {
	out := clone(rec)
	if out.Education == nil {
		out.Education = []domain.Item{}
	}
	if out.Experience == nil {
		out.Experience = []domain.Item{}
	}
	if out.Skills == nil {
		out.Skills = []domain.SkillEntry{}
	}
	return out
}

// ApplyDetail stores the items a detail page produced for section.
// An unknown section leaves the record unchanged.
func ApplyDetail(rec domain.ProfileRecord, section domain.Section, items []domain.Item) domain.ProfileRecord {
	out := clone(rec)
	switch section {
	case domain.SectionEducation:
		out.Education = cloneItems(items)
	case domain.SectionExperience:
		out.Experience = cloneItems(items)
	}
	return out
}

// ApplyFinal merges the final-pass result. Experience is only a fallback for
// a record that has none; skills always come from this pass.
func ApplyFinal(rec domain.ProfileRecord, experience []domain.Item, skills []domain.SkillEntry) domain.ProfileRecord {
	out := clone(rec)
	if len(out.Experience) == 0 && len(experience) > 0 {
		out.Experience = cloneItems(experience)
	}
	out.Skills = cloneSkills(skills)
	return out
}

// Assemble produces the record handed to enrichment and persistence.
func Assemble(rec domain.ProfileRecord) domain.ProfileRecord {
	out := Normalize(rec)
	if strings.TrimSpace(out.CurrentCompany) == "" && len(out.Experience) > 0 {
		out.CurrentCompany = util.CleanText(companyName(out.Experience[0]["Company"]))
	}
	if out.Source == "" {
		out.Source = domain.SourceTag
	}
	return out
}

// companyName strips the employment-type suffix ("Acme · Full-time").
func companyName(s string) string {
	if i := strings.Index(s, "·"); i >= 0 {
		s = s[:i]
	}
	return s
}

// Payload restricts rec to the persisted field allow-list.
func Payload(rec domain.ProfileRecord) map[string]any {
	rec = Normalize(rec)
	return map[string]any{
		"candidate_name":         rec.CandidateName,
		"current_title":          rec.CurrentTitle,
		"current_company":        rec.CurrentCompany,
		"linkedin_url":           rec.LinkedInURL,
		"location_compatibility": rec.LocationCompatibility,
		"candidate_description":  rec.CandidateDescription,
		"education":              rec.Education,
		"experience":             rec.Experience,
		"skills":                 rec.Skills,
		"about":                  rec.About,
		"source":                 rec.Source,
	}
}

func clone(rec domain.ProfileRecord) domain.ProfileRecord {
	out := rec
	out.Education = cloneItems(rec.Education)
	out.Experience = cloneItems(rec.Experience)
	out.Skills = cloneSkills(rec.Skills)
	out.Extra = nil
	if len(rec.Extra) > 0 {
		out.Extra = make(map[string]json.RawMessage, len(rec.Extra))
	}
	for k, v := range rec.Extra {
		out.Extra[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func cloneItems(in []domain.Item) []domain.Item {
	if in == nil {
		return nil
	}
	out := make([]domain.Item, len(in))
	for i, it := range in {
		c := make(domain.Item, len(it))
		for k, v := range it {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

func cloneSkills(in []domain.SkillEntry) []domain.SkillEntry {
	if in == nil {
		return nil
	}
	out := make([]domain.SkillEntry, len(in))
	for i, s := range in {
		out[i] = domain.SkillEntry{SkillName: s.SkillName, Details: append([]domain.SkillDetail(nil), s.Details...)}
	}
	return out
}
