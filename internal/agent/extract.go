package agent

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/scrape/util"
)

// scalars reads the header fields from a snapshot of the profile page.
func scalars(doc *goquery.Document, sel Selectors, pageURL string) domain.ProfileRecord {
	rec := domain.ProfileRecord{
		CandidateName:         util.CleanText(doc.Find(sel.Name).First().Text()),
		CurrentTitle:          util.CleanText(doc.Find(sel.Headline).First().Text()),
		LocationCompatibility: util.CleanText(doc.Find(sel.Location).First().Text()),
		LinkedInURL:           util.CanonicalProfileURL(pageURL),
		Education:             []domain.Item{},
		Experience:            []domain.Item{},
		Skills:                []domain.SkillEntry{},
		Source:                domain.SourceTag,
	}
	if about := doc.Find(sel.AboutAnchor).First().Closest(sel.Section); about.Length() > 0 {
		rec.About = util.CleanText(about.Find(sel.AboutText).First().Text())
	}
	return rec
}

// detailLinks returns the detail pages to visit, education first. Each
// section is checked on its own.
func detailLinks(doc *goquery.Document, sel Selectors, pageURL string) []string {
	var tasks []string
	for _, s := range []struct{ anchor, link string }{
		{sel.EducationAnchor, sel.EducationLink},
		{sel.ExperienceAnchor, sel.ExperienceLink},
	} {
		section := doc.Find(s.anchor).First().Closest(sel.Section)
		if section.Length() == 0 {
			continue
		}
		href, ok := section.Find(s.link).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		tasks = append(tasks, util.Resolve(pageURL, href))
	}
	return tasks
}

// parseSkills reads skill entries from the outer HTML of the skills section.
func parseSkills(sectionHTML string, sel Selectors, pageURL string) ([]domain.SkillEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sectionHTML))
	if err != nil {
		return nil, err
	}
	items := doc.Find(sel.Section).First()
	for _, step := range sel.SkillItemPath {
		items = items.ChildrenFiltered(step)
	}

	skills := []domain.SkillEntry{}
	items.Each(func(_ int, item *goquery.Selection) {
		nameEl := item.Find(sel.SkillName).First()
		if nameEl.Length() == 0 {
			return
		}
		entry := domain.SkillEntry{
			SkillName: strings.TrimSpace(nameEl.Text()),
			Details:   []domain.SkillDetail{},
		}
		item.Find(sel.SkillSubItems).Each(func(_ int, sub *goquery.Selection) {
			textEl := sub.Find(sel.SkillDetailText).First()
			if textEl.Length() == 0 {
				return
			}
			d := domain.SkillDetail{Text: strings.TrimSpace(textEl.Text())}
			if d.Text == "" {
				return
			}
			if src, ok := sub.Find("img").First().Attr("src"); ok {
				d.ImageURL = util.Resolve(pageURL, src)
			}
			if href, ok := sub.Find("a").First().Attr("href"); ok {
				d.Link = util.Resolve(pageURL, href)
			}
			d.Type = detailType(d)
			entry.Details = append(entry.Details, d)
		})
		skills = append(skills, entry)
	})
	return skills, nil
}

func detailType(d domain.SkillDetail) domain.DetailType {
	text := strings.ToLower(d.Text)
	switch {
	case strings.Contains(text, "endorse") && strings.Contains(text, "endorsements"):
		return domain.DetailEndorsementCount
	case strings.Contains(text, "endorse"):
		return domain.DetailEndorsementSummary
	case d.ImageURL != "":
		return domain.DetailRelatedCredential
	}
	return domain.DetailUnknown
}
