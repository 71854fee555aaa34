// Package agent runs inside one page load of a tab. It decides what to do
// from the page URL and reports results to the scheduler as protocol
// messages. Nothing it holds survives the next navigation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"profilescrape-engine/internal/dom"
	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/protocol"
	"profilescrape-engine/internal/scrape/items"
	"profilescrape-engine/internal/scrape/util"
)

// Outbox delivers a message from this page to the scheduler.
type Outbox interface {
	Emit(ctx context.Context, msg protocol.Message) (protocol.Response, error)
}

type OutboxFunc func(ctx context.Context, msg protocol.Message) (protocol.Response, error)

func (f OutboxFunc) Emit(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	return f(ctx, msg)
}

type Options struct {
	Selectors Selectors
	Timings   dom.Timings
	Logger    *zap.Logger
}

type Agent struct {
	doc dom.Document
	out Outbox
	sel Selectors
	tim dom.Timings
	log *zap.Logger
}

func New(doc dom.Document, out Outbox, opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Selectors.Name == "" {
		opts.Selectors = LinkedInSelectors()
	}
	if opts.Timings == (dom.Timings{}) {
		opts.Timings = dom.DefaultTimings()
	}
	return &Agent{doc: doc, out: out, sel: opts.Selectors, tim: opts.Timings, log: opts.Logger.Named("agent")}
}

// OnLoad runs once per page load. Detail pages are scraped and reported;
// every other page waits for instructions.
func (a *Agent) OnLoad(ctx context.Context) error {
	pageURL, err := a.doc.URL()
	if err != nil {
		return err
	}
	section, ok := util.DetailSection(pageURL)
	if !ok {
		return nil
	}
	log := a.log.With(zap.String("url", pageURL), zap.String("section", string(section)))

	data, err := a.scrapeDetailPage(ctx, section)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("detail page scrape degraded", zap.Error(err))
	}
	log.Info("detail page scraped", zap.Int("items", len(data)))

	_, err = a.out.Emit(ctx, protocol.DetailResult{Section: section, Items: data})
	return err
}

// Handle executes an instruction sent to this page.
func (a *Agent) Handle(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	switch msg.Kind() {
	case protocol.KindStartSession:
		return a.plan(ctx)
	case protocol.KindScrapeFinal:
		exp, skills := a.scrapeRemaining(ctx)
		if err := ctx.Err(); err != nil {
			return protocol.Response{}, err
		}
		return a.out.Emit(ctx, protocol.FinalResult{Experience: exp, Skills: skills})
	}
	return protocol.Response{}, fmt.Errorf("agent cannot handle %s", msg.Kind())
}

func (a *Agent) scrapeDetailPage(ctx context.Context, section domain.Section) ([]domain.Item, error) {
	data := []domain.Item{}
	if _, err := dom.WaitForElement(ctx, a.doc, a.sel.DetailItems, a.tim.ElementTimeout); err != nil {
		return data, err
	}
	if _, err := dom.ExpandAll(ctx, a.doc, a.sel.ExpandButtons, a.tim.ExpandSettle); err != nil {
		return data, err
	}
	if err := dom.ScrollToRevealAll(ctx, a.doc, a.tim.ScrollDistance, a.tim.ScrollStep); err != nil {
		return data, err
	}
	if err := dom.ExhaustProgressiveLoad(ctx, a.doc, a.sel.LoadMore, a.tim.LoadMoreSettle, a.tim.ProbeDelay); err != nil {
		return data, err
	}
	nodes, err := a.doc.QueryAll(a.sel.DetailItems)
	if err != nil {
		return data, err
	}
	return classifierFor(section).Parse(texts(nodes), ""), nil
}

func (a *Agent) plan(ctx context.Context) (protocol.Response, error) {
	if _, err := dom.WaitForElement(ctx, a.doc, a.sel.Name, a.tim.ElementTimeout); err != nil {
		if ctx.Err() != nil {
			return protocol.Response{}, ctx.Err()
		}
		a.log.Warn("profile header did not appear, continuing", zap.Error(err))
	} else if err := dom.ScrollToRevealAll(ctx, a.doc, a.tim.ScrollDistance, a.tim.ScrollStep); err != nil {
		return protocol.Response{}, err
	}

	pageURL, err := a.doc.URL()
	if err != nil {
		return protocol.Response{}, err
	}
	html, err := a.doc.HTML()
	if err != nil {
		return protocol.Response{}, fmt.Errorf("snapshot: %w", err)
	}
	snap, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("parse snapshot: %w", err)
	}

	rec := scalars(snap, a.sel, pageURL)
	tasks := detailLinks(snap, a.sel, pageURL)

	if len(tasks) > 0 {
		a.log.Info("plan created", zap.Strings("tasks", tasks))
		return a.out.Emit(ctx, protocol.SetupPlan{Record: rec, Tasks: tasks})
	}

	a.log.Info("no detail pages, scraping inline")
	if sec := a.section(a.sel.EducationAnchor); sec != nil {
		rec.Education = a.scrapeSection(ctx, sec, items.Education, "")
	}
	if sec := a.section(a.sel.ExperienceAnchor); sec != nil {
		rec.Experience = a.scrapeSection(ctx, sec, items.Experience, rec.CandidateName)
	}
	rec.Skills = a.scrapeSkills(ctx, pageURL)
	if err := ctx.Err(); err != nil {
		return protocol.Response{}, err
	}
	return a.out.Emit(ctx, protocol.SaveSinglePage{Record: rec})
}

// scrapeRemaining is the final pass on the restored profile page: experience
// as a fallback and skills always. A missing section yields an empty list.
func (a *Agent) scrapeRemaining(ctx context.Context) ([]domain.Item, []domain.SkillEntry) {
	experience := []domain.Item{}

	anchor, err := dom.WaitForElement(ctx, a.doc, a.sel.ExperienceAnchor, a.tim.SectionTimeout)
	if err != nil {
		a.log.Warn("experience section not found during final scrape", zap.Error(err))
	} else if sec, _ := anchor.Closest(a.sel.Section); sec != nil {
		experience = a.scrapeSection(ctx, sec, items.Experience, a.candidateName())
	}

	pageURL, _ := a.doc.URL()
	return experience, a.scrapeSkills(ctx, pageURL)
}

func (a *Agent) scrapeSection(ctx context.Context, sec dom.Node, c items.Classifier, candidateName string) []domain.Item {
	if _, err := dom.ExpandAll(ctx, sec, a.sel.ExpandButtons, a.tim.ExpandSettle); err != nil {
		return []domain.Item{}
	}
	if err := dom.ExhaustProgressiveLoad(ctx, sec, a.sel.LoadMore, a.tim.LoadMoreSettle, a.tim.ProbeDelay); err != nil {
		return []domain.Item{}
	}
	nodes, err := sec.QueryAll(a.sel.SectionItems)
	if err != nil {
		a.log.Warn("collect section items", zap.Error(err))
		return []domain.Item{}
	}
	return c.Parse(texts(nodes), candidateName)
}

func (a *Agent) scrapeSkills(ctx context.Context, pageURL string) []domain.SkillEntry {
	anchor, err := dom.WaitForElement(ctx, a.doc, a.sel.SkillsAnchor, a.tim.SectionTimeout)
	if err != nil {
		var te *dom.TimeoutError
		if errors.As(err, &te) {
			a.log.Warn("skills section not found", zap.Error(err))
		}
		return []domain.SkillEntry{}
	}
	sec, err := anchor.Closest(a.sel.Section)
	if err != nil || sec == nil {
		return []domain.SkillEntry{}
	}
	html, err := sec.HTML()
	if err != nil {
		a.log.Warn("read skills section", zap.Error(err))
		return []domain.SkillEntry{}
	}
	skills, err := parseSkills(html, a.sel, pageURL)
	if err != nil {
		a.log.Warn("parse skills section", zap.Error(err))
		return []domain.SkillEntry{}
	}
	a.log.Info("skills scraped", zap.Int("count", len(skills)))
	return skills
}

// section returns the <section> enclosing anchor, or nil.
func (a *Agent) section(anchor string) dom.Node {
	n, err := a.doc.Query(anchor)
	if err != nil || n == nil {
		return nil
	}
	sec, err := n.Closest(a.sel.Section)
	if err != nil {
		return nil
	}
	return sec
}

func (a *Agent) candidateName() string {
	n, err := a.doc.Query(a.sel.Name)
	if err != nil || n == nil {
		return ""
	}
	t, _ := n.Text()
	return strings.TrimSpace(t)
}

func classifierFor(s domain.Section) items.Classifier {
	if s == domain.SectionEducation {
		return items.Education
	}
	return items.Experience
}

func texts(nodes []dom.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		t, err := n.Text()
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
