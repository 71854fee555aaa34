// Package protocol defines the messages exchanged between page agents and
// the navigation scheduler.
package protocol

import (
	"encoding/json"
	"fmt"

	"profilescrape-engine/internal/domain"
)

type Kind string

const (
	KindStartSession   Kind = "START_SESSION"
	KindSetupPlan      Kind = "SETUP_PLAN"
	KindDetailResult   Kind = "DETAIL_RESULT"
	KindScrapeFinal    Kind = "SCRAPE_FINAL"
	KindFinalResult    Kind = "FINAL_RESULT"
	KindSaveSinglePage Kind = "SAVE_SINGLE_PAGE"
)

// Message is implemented by every typed protocol message.
type Message interface {
	Kind() Kind
}

// StartSession tells a profile page agent to plan the scrape.
type StartSession struct{}

// SetupPlan carries the partial record and the ordered detail-page queue.
type SetupPlan struct {
	Record domain.ProfileRecord `json:"mainProfileData"`
	Tasks  []string             `json:"taskQueue"`
}

// UnmarshalJSON also accepts the short keys profileData and tasks.
func (p *SetupPlan) UnmarshalJSON(b []byte) error {
	var raw struct {
		Record      *domain.ProfileRecord `json:"mainProfileData"`
		Tasks       []string              `json:"taskQueue"`
		ShortRecord *domain.ProfileRecord `json:"profileData"`
		ShortTasks  []string              `json:"tasks"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = SetupPlan{Tasks: raw.Tasks}
	switch {
	case raw.Record != nil:
		p.Record = *raw.Record
	case raw.ShortRecord != nil:
		p.Record = *raw.ShortRecord
	}
	if p.Tasks == nil {
		p.Tasks = raw.ShortTasks
	}
	return nil
}

type DetailResult struct {
	Section domain.Section `json:"section"`
	Items   []domain.Item  `json:"data"`
}

// ScrapeFinal asks the agent on the restored profile page for the sections
// that are only available there.
type ScrapeFinal struct{}

type FinalResult struct {
	Experience []domain.Item       `json:"experience"`
	Skills     []domain.SkillEntry `json:"skills"`
}

// SaveSinglePage is the record of a profile that needed no detail pages.
// On the wire the payload is the bare record.
type SaveSinglePage struct {
	Record domain.ProfileRecord
}

func (s SaveSinglePage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record)
}

// UnmarshalJSON takes the bare record, or one wrapped as {"profileData": ...}.
func (s *SaveSinglePage) UnmarshalJSON(b []byte) error {
	var wrapped struct {
		Record *domain.ProfileRecord `json:"profileData"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if wrapped.Record != nil {
		s.Record = *wrapped.Record
		return nil
	}
	var rec domain.ProfileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	s.Record = rec
	return nil
}

func (StartSession) Kind() Kind   { return KindStartSession }
func (SetupPlan) Kind() Kind      { return KindSetupPlan }
func (DetailResult) Kind() Kind   { return KindDetailResult }
func (ScrapeFinal) Kind() Kind    { return KindScrapeFinal }
func (FinalResult) Kind() Kind    { return KindFinalResult }
func (SaveSinglePage) Kind() Kind { return KindSaveSinglePage }

// Response statuses.
const (
	StatusOK      = "ok"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response acknowledges a delivered message.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func OK() Response { return Response{Status: StatusOK} }

func Success(msg string) Response { return Response{Status: StatusSuccess, Message: msg} }

func Error(msg string) Response { return Response{Status: StatusError, Message: msg} }

// Envelope is the JSON wire form of a message: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps m in an envelope.
func Encode(m Message) (Envelope, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return Envelope{Type: m.Kind(), Payload: b}, nil
}

// Decode returns the typed message an envelope carries.
func Decode(env Envelope) (Message, error) {
	var m Message
	switch env.Type {
	case KindStartSession:
		return StartSession{}, nil
	case KindScrapeFinal:
		return ScrapeFinal{}, nil
	case KindSetupPlan:
		m = &SetupPlan{}
	case KindDetailResult:
		m = &DetailResult{}
	case KindFinalResult:
		m = &FinalResult{}
	case KindSaveSinglePage:
		m = &SaveSinglePage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	switch v := m.(type) {
	case *SetupPlan:
		return *v, nil
	case *DetailResult:
		return *v, nil
	case *FinalResult:
		return *v, nil
	case *SaveSinglePage:
		return *v, nil
	}
	return m, nil
}
