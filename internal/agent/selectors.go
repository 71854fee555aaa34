package agent

// Selectors locate profile content. They are the only markup-specific part
// of the agent.
type Selectors struct {
	Name     string
	Headline string
	Location string

	AboutAnchor string
	AboutText   string

	EducationAnchor  string
	ExperienceAnchor string
	SkillsAnchor     string
	Section          string

	EducationLink  string
	ExperienceLink string

	SectionItems  string
	DetailItems   string
	ExpandButtons string
	LoadMore      string

	// SkillItemPath is applied as a chain of direct-child steps from the
	// skills section.
	SkillItemPath   []string
	SkillName       string
	SkillSubItems   string
	SkillDetailText string
}

func LinkedInSelectors() Selectors {
	return Selectors{
		Name:     "h1",
		Headline: ".text-body-medium.break-words",
		Location: "span.text-body-small.inline.t-black--light.break-words",

		AboutAnchor: "#about",
		AboutText:   ".display-flex.ph5.pv3 span.visually-hidden",

		EducationAnchor:  "#education",
		ExperienceAnchor: "#experience",
		SkillsAnchor:     "#skills",
		Section:          "section",

		EducationLink:  `a[href*="/details/education"]`,
		ExperienceLink: `a[href*="/details/experience"]`,

		SectionItems:  "li.pvs-list__paged-list-item, li.artdeco-list__item",
		DetailItems:   "li.pvs-list__paged-list-item",
		ExpandButtons: `button.inline-show-more-text__button[aria-expanded="false"], button[aria-label*="See more"]`,
		LoadMore:      ".scaffold-finite-scroll__load-button",

		SkillItemPath:   []string{"div", "ul", `li[class*="artdeco-list__item"]`},
		SkillName:       `a[data-field="skill_card_skill_topic"] span[aria-hidden="true"]`,
		SkillSubItems:   "div.pvs-entity__sub-components li",
		SkillDetailText: `span[aria-hidden="true"]`,
	}
}
