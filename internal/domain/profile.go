package domain

import (
	"encoding/json"
	"time"
)

// Section names a profile section that can have a dedicated detail page.
type Section string

const (
	SectionExperience Section = "experience"
	SectionEducation  Section = "education"
)

func (s Section) Valid() bool {
	return s == SectionExperience || s == SectionEducation
}

// Item is a heuristically classified experience or education entry.
// Keys are present only when a matching line was found; leftovers live
// under Extra_<n> keys.
type Item map[string]string

type DetailType string

const (
	DetailEndorsementCount   DetailType = "endorsement_count"
	DetailEndorsementSummary DetailType = "endorsement_summary"
	DetailRelatedCredential  DetailType = "related_credential"
	DetailUnknown            DetailType = "unknown"
)

type SkillDetail struct {
	Text     string     `json:"text"`
	Type     DetailType `json:"type"`
	ImageURL string     `json:"imageUrl,omitempty"`
	Link     string     `json:"link,omitempty"`
}

type SkillEntry struct {
	SkillName string        `json:"skillName"`
	Details   []SkillDetail `json:"details"`
}

// ProfileRecord is the composite candidate record built across page loads.
// Extra carries keys an external producer sent that are not part of the
// record; they never reach persistence.
type ProfileRecord struct {
	CandidateName         string       `json:"candidate_name"`
	CurrentTitle          string       `json:"current_title"`
	CurrentCompany        string       `json:"current_company"`
	LinkedInURL           string       `json:"linkedin_url"`
	LocationCompatibility string       `json:"location_compatibility"`
	CandidateDescription  string       `json:"candidate_description"`
	Education             []Item       `json:"education"`
	Experience            []Item       `json:"experience"`
	Skills                []SkillEntry `json:"skills"`
	About                 string       `json:"about"`
	Source                string       `json:"source"`

	Extra map[string]json.RawMessage `json:"-"`
}

// SourceTag is stamped on every record produced by this engine.
const SourceTag = "LinkedIn Extension"

var recordKeys = []string{
	"candidate_name", "current_title", "current_company", "linkedin_url",
	"location_compatibility", "candidate_description", "education",
	"experience", "skills", "about", "source",
}

func (r *ProfileRecord) UnmarshalJSON(b []byte) error {
	type plain ProfileRecord
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range recordKeys {
		delete(all, k)
	}
	*r = ProfileRecord(p)
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}

// DetailSectionResult is what a detail page yields.
type DetailSectionResult struct {
	Section Section `json:"section"`
	Data    []Item  `json:"data"`
}

// Candidate is a persisted record as read back from the store.
type Candidate struct {
	ID        int64         `json:"id"`
	Record    ProfileRecord `json:"record"`
	CreatedAt time.Time     `json:"createdAt"`
}
