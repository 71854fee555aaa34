package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"profilescrape-engine/internal/dom"
	"profilescrape-engine/internal/dom/domtest"
	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Emit(_ context.Context, msg protocol.Message) (protocol.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return protocol.OK(), nil
}

func (r *recorder) only(t *testing.T) protocol.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.msgs, 1)
	return r.msgs[0]
}

func fastTimings() dom.Timings {
	return dom.Timings{
		ElementTimeout: 50 * time.Millisecond,
		SectionTimeout: 30 * time.Millisecond,
		ScrollDistance: 300,
		ScrollStep:     time.Millisecond,
		ExpandSettle:   time.Millisecond,
		LoadMoreSettle: time.Millisecond,
		ProbeDelay:     time.Millisecond,
	}
}

const profileHeader = `
<h1> Jane Doe </h1>
<div class="text-body-medium break-words">Staff Engineer at Acme</div>
<span class="text-body-small inline t-black--light break-words">Bengaluru, India</span>
<section><div id="about"></div><div class="display-flex ph5 pv3"><span class="visually-hidden">I build platforms.</span></div></section>`

const skillsHTML = `<section><div id="skills"></div><div><ul>
<li class="artdeco-list__item pvs-list__item--one-column">
  <a data-field="skill_card_skill_topic"><span aria-hidden="true">Go</span></a>
  <div class="pvs-entity__sub-components"><ul>
    <li><span aria-hidden="true">12 endorsements</span></li>
    <li><span aria-hidden="true">Endorsed by 3 colleagues at Acme</span></li>
    <li><img src="https://media.example.com/cert.png"><a href="/cert/1"><span aria-hidden="true">AWS Certified</span></a></li>
    <li><span aria-hidden="true">Used at 2 jobs</span></li>
    <li><span aria-hidden="true">   </span></li>
  </ul></div>
</li>
<li class="artdeco-list__item"><span>no skill name here</span></li>
</ul></div></section>`

func TestPlanningEmitsQueueEducationFirst(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/?miniProfile=1")
	doc.Put("h1", &domtest.Node{TextValue: "Jane Doe"})
	doc.SetHTML(`<html><body>` + profileHeader + `
<section><div id="experience"></div><a href="/in/jane/details/experience?from=profile">Show all</a></section>
<section><div id="education"></div><a href="https://www.linkedin.com/in/jane/details/education/">Show all</a></section>
</body></html>`)

	out := &recorder{}
	a := New(doc, out, Options{Timings: fastTimings()})
	_, err := a.Handle(context.Background(), protocol.StartSession{})
	require.NoError(t, err)

	plan, ok := out.only(t).(protocol.SetupPlan)
	require.True(t, ok)
	assert.Equal(t, []string{
		"https://www.linkedin.com/in/jane/details/education/",
		"https://www.linkedin.com/in/jane/details/experience?from=profile",
	}, plan.Tasks)

	rec := plan.Record
	assert.Equal(t, "Jane Doe", rec.CandidateName)
	assert.Equal(t, "Staff Engineer at Acme", rec.CurrentTitle)
	assert.Equal(t, "Bengaluru, India", rec.LocationCompatibility)
	assert.Equal(t, "I build platforms.", rec.About)
	assert.Equal(t, "https://www.linkedin.com/in/jane", rec.LinkedInURL)
	assert.Equal(t, domain.SourceTag, rec.Source)
	assert.Empty(t, rec.Education)
	assert.Empty(t, rec.Experience)
	assert.Greater(t, doc.Scrolled(), 0)
}

func TestPlanningWithoutDetailPagesScrapesInline(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/")
	doc.SetHTML(`<html><body>` + profileHeader + `</body></html>`)
	doc.Put("h1", &domtest.Node{TextValue: "Jane Doe"})

	sel := LinkedInSelectors()

	eduSec := &domtest.Node{Heights: []int{200}}
	eduSec.SetChildren(sel.SectionItems, &domtest.Node{TextValue: "IIT Bombay\nBachelor of Technology\n2012 - 2016"})
	doc.Put("#education", &domtest.Node{Ancestors: map[string]*domtest.Node{"section": eduSec}})

	expSec := &domtest.Node{Heights: []int{300}}
	expSec.SetChildren(sel.SectionItems,
		&domtest.Node{TextValue: "Jane Doe\nEngineer\nAcme\n2019 - Present"},
		&domtest.Node{TextValue: "  \n"},
	)
	doc.Put("#experience", &domtest.Node{Ancestors: map[string]*domtest.Node{"section": expSec}})

	skillsSec := &domtest.Node{HTMLValue: skillsHTML}
	doc.Put("#skills", &domtest.Node{Ancestors: map[string]*domtest.Node{"section": skillsSec}})

	out := &recorder{}
	a := New(doc, out, Options{Timings: fastTimings()})
	_, err := a.Handle(context.Background(), protocol.StartSession{})
	require.NoError(t, err)

	save, ok := out.only(t).(protocol.SaveSinglePage)
	require.True(t, ok)
	rec := save.Record
	assert.Equal(t, []domain.Item{{"School": "IIT Bombay", "Degree": "Bachelor of Technology", "Dates": "2012 - 2016"}}, rec.Education)
	assert.Equal(t, []domain.Item{{"Position": "Engineer", "Company": "Acme", "Duration": "2019 - Present"}}, rec.Experience)
	require.Len(t, rec.Skills, 1)
	assert.Equal(t, "Go", rec.Skills[0].SkillName)
	assert.Zero(t, doc.ActiveObservers())
}

func TestParseSkillsClassifiesDetails(t *testing.T) {
	skills, err := parseSkills(skillsHTML, LinkedInSelectors(), "https://www.linkedin.com/in/jane/")
	require.NoError(t, err)
	require.Len(t, skills, 1)

	assert.Equal(t, []domain.SkillDetail{
		{Text: "12 endorsements", Type: domain.DetailEndorsementCount},
		{Text: "Endorsed by 3 colleagues at Acme", Type: domain.DetailEndorsementSummary},
		{
			Text:     "AWS Certified",
			Type:     domain.DetailRelatedCredential,
			ImageURL: "https://media.example.com/cert.png",
			Link:     "https://www.linkedin.com/cert/1",
		},
		{Text: "Used at 2 jobs", Type: domain.DetailUnknown},
	}, skills[0].Details)
}

func TestDetailPageExhaustsAndReports(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/details/experience/")
	sel := LinkedInSelectors()

	first := &domtest.Node{TextValue: "Engineer\nAcme\n2019 - Present"}
	second := &domtest.Node{TextValue: "Intern\nBeta\n2018"}
	third := &domtest.Node{TextValue: "Trainee\nGamma\n2017"}
	doc.Put(sel.DetailItems, first, second)

	expand := &domtest.Node{}
	doc.Put(sel.ExpandButtons, expand)

	more := &domtest.Node{}
	more.OnClick = func(n *domtest.Node) {
		n.SetHidden(true)
		doc.Put(sel.DetailItems, first, second, third)
	}
	doc.Put(sel.LoadMore, more)

	out := &recorder{}
	a := New(doc, out, Options{Timings: fastTimings()})
	require.NoError(t, a.OnLoad(context.Background()))

	res, ok := out.only(t).(protocol.DetailResult)
	require.True(t, ok)
	assert.Equal(t, domain.SectionExperience, res.Section)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "Trainee", res.Items[2]["Position"])
	assert.Equal(t, 1, expand.Clicks())
	assert.Equal(t, 1, more.Clicks())
}

func TestDetailPageTimeoutStillReports(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/details/education/")
	out := &recorder{}
	a := New(doc, out, Options{Timings: fastTimings()})
	require.NoError(t, a.OnLoad(context.Background()))

	res, ok := out.only(t).(protocol.DetailResult)
	require.True(t, ok)
	assert.Equal(t, domain.SectionEducation, res.Section)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}

func TestProfilePageLoadDoesNothing(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/")
	out := &recorder{}
	require.NoError(t, New(doc, out, Options{Timings: fastTimings()}).OnLoad(context.Background()))
	assert.Empty(t, out.msgs)
}

func TestScrapeFinalWithMissingSectionsIsEmpty(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/")
	out := &recorder{}
	a := New(doc, out, Options{Timings: fastTimings()})

	_, err := a.Handle(context.Background(), protocol.ScrapeFinal{})
	require.NoError(t, err)

	res, ok := out.only(t).(protocol.FinalResult)
	require.True(t, ok)
	assert.NotNil(t, res.Experience)
	assert.Empty(t, res.Experience)
	assert.NotNil(t, res.Skills)
	assert.Empty(t, res.Skills)
	assert.Zero(t, doc.ActiveObservers())
}

func TestScrapeFinalReadsExperienceAndSkills(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/")
	sel := LinkedInSelectors()
	doc.Put("h1", &domtest.Node{TextValue: "Jane Doe"})

	expSec := &domtest.Node{Heights: []int{10}}
	expSec.SetChildren(sel.SectionItems, &domtest.Node{TextValue: "Engineer\nJane Doe\nAcme\n12 comments"})
	doc.Put("#experience", &domtest.Node{Ancestors: map[string]*domtest.Node{"section": expSec}})
	doc.Put("#skills", &domtest.Node{Ancestors: map[string]*domtest.Node{"section": {HTMLValue: skillsHTML}}})

	out := &recorder{}
	_, err := New(doc, out, Options{Timings: fastTimings()}).Handle(context.Background(), protocol.ScrapeFinal{})
	require.NoError(t, err)

	res := out.only(t).(protocol.FinalResult)
	assert.Equal(t, []domain.Item{{"Position": "Engineer", "Company": "Acme"}}, res.Experience)
	require.Len(t, res.Skills, 1)
}

func TestHeaderTimeoutSkipsScrollButStillPlans(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/")
	doc.SetHTML(`<html><body></body></html>`)
	out := &recorder{}

	_, err := New(doc, out, Options{Timings: fastTimings()}).Handle(context.Background(), protocol.StartSession{})
	require.NoError(t, err)

	save, ok := out.only(t).(protocol.SaveSinglePage)
	require.True(t, ok)
	assert.Equal(t, "", save.Record.CandidateName)
	assert.Zero(t, doc.Scrolled())
}

func TestHandleRejectsSchedulerBoundMessages(t *testing.T) {
	doc := domtest.NewDoc("https://www.linkedin.com/in/jane/")
	_, err := New(doc, &recorder{}, Options{}).Handle(context.Background(), protocol.SetupPlan{})
	assert.Error(t, err)
}
