// Package stageconfig loads the stage catalog (onboarding and learning stages
// with their flow rules) from a YAML file and seeds it into a store.
package stageconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// FILE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// File is the top-level document.
type File struct {
	Onboarding []OnboardingStage `yaml:"onboarding"`
	Learning   []LearningStage   `yaml:"learning"`

	// Students are only seeded into the in-memory store for local runs.
	Students []Student `yaml:"students,omitempty"`
}

// Flow is one transition rule.
type Flow struct {
	Trigger     string `yaml:"trigger"`
	Next        string `yaml:"next,omitempty"`
	FlowID      string `yaml:"flow_id,omitempty"`
	FlowType    string `yaml:"flow_type,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// OnboardingStage describes an onboarding stage. Active defaults to true.
type OnboardingStage struct {
	StageName   string `yaml:"stage_name"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Order       int    `yaml:"order,omitempty"`
	Final       bool   `yaml:"final,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
	Flows       []Flow `yaml:"flows,omitempty"`
}

// LearningStage describes a course stage. Active defaults to true.
type LearningStage struct {
	Key     string `yaml:"key"`
	Title   string `yaml:"title,omitempty"`
	Course  string `yaml:"course"`
	Initial bool   `yaml:"initial,omitempty"`
	Order   int    `yaml:"order,omitempty"`
	Active  *bool  `yaml:"active,omitempty"`
	Flows   []Flow `yaml:"flows,omitempty"`
}

// Student is a seed student.
type Student struct {
	ID          string       `yaml:"id"`
	GlificID    string       `yaml:"glific_id,omitempty"`
	Phone       string       `yaml:"phone,omitempty"`
	Name        string       `yaml:"name"`
	Enrollments []Enrollment `yaml:"enrollments,omitempty"`
}

// Enrollment is a seed enrollment.
type Enrollment struct {
	Course string `yaml:"course"`
	Batch  string `yaml:"batch,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog is a validated stage catalog ready to seed.
type Catalog struct {
	Onboarding []*journey.OnboardingStage
	Learning   []*journey.LearningStage
	Students   []Student

	// Dangling lists flow rules whose next stage is not defined in the file.
	// They are allowed: the engine reports them as "next stage not found".
	Dangling []string
}

// ErrInvalidCatalog wraps every validation failure.
var ErrInvalidCatalog = errors.New("invalid stage catalog")

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stage catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stage catalog: %w", err)
	}

	var doc File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return build(doc)
}

func build(doc File) (*Catalog, error) {
	c := &Catalog{Students: doc.Students}

	onboarding := make(map[string]bool, len(doc.Onboarding))
	for i, s := range doc.Onboarding {
		if s.StageName == "" {
			return nil, fmt.Errorf("%w: onboarding[%d]: stage_name is required", ErrInvalidCatalog, i)
		}
		if onboarding[s.StageName] {
			return nil, fmt.Errorf("%w: duplicate onboarding stage %q", ErrInvalidCatalog, s.StageName)
		}
		onboarding[s.StageName] = true

		flows, err := convertFlows(s.Flows)
		if err != nil {
			return nil, fmt.Errorf("%w: onboarding stage %q: %v", ErrInvalidCatalog, s.StageName, err)
		}
		name := s.Name
		if name == "" {
			name = s.StageName
		}
		c.Onboarding = append(c.Onboarding, &journey.OnboardingStage{
			Name:         name,
			StageName:    s.StageName,
			Description:  s.Description,
			Order:        s.Order,
			IsFinalStage: s.Final,
			Active:       isActive(s.Active),
			StageFlows:   flows,
		})
	}

	learning := make(map[string]bool, len(doc.Learning))
	for i, s := range doc.Learning {
		if s.Key == "" || s.Course == "" {
			return nil, fmt.Errorf("%w: learning[%d]: key and course are required", ErrInvalidCatalog, i)
		}
		if learning[s.Key] {
			return nil, fmt.Errorf("%w: duplicate learning stage %q", ErrInvalidCatalog, s.Key)
		}
		learning[s.Key] = true

		flows, err := convertFlows(s.Flows)
		if err != nil {
			return nil, fmt.Errorf("%w: learning stage %q: %v", ErrInvalidCatalog, s.Key, err)
		}
		c.Learning = append(c.Learning, &journey.LearningStage{
			Key:        s.Key,
			Title:      s.Title,
			Course:     s.Course,
			IsInitial:  s.Initial,
			Order:      s.Order,
			Active:     isActive(s.Active),
			StageFlows: flows,
		})
	}

	for _, s := range c.Onboarding {
		c.Dangling = append(c.Dangling, dangling(s, onboarding)...)
	}
	for _, s := range c.Learning {
		c.Dangling = append(c.Dangling, dangling(s, learning)...)
	}

	for i, st := range doc.Students {
		if st.ID == "" || st.Name == "" {
			return nil, fmt.Errorf("%w: students[%d]: id and name are required", ErrInvalidCatalog, i)
		}
	}
	return c, nil
}

func convertFlows(in []Flow) ([]journey.StageFlow, error) {
	out := make([]journey.StageFlow, 0, len(in))
	for i, f := range in {
		if f.Trigger != journey.TriggerDefault && !journey.Status(f.Trigger).IsValid() {
			return nil, fmt.Errorf("flow %d: unknown trigger %q", i, f.Trigger)
		}
		out = append(out, journey.StageFlow{
			TriggerStatus: f.Trigger,
			NextStage:     f.Next,
			FlowID:        f.FlowID,
			FlowType:      f.FlowType,
			Description:   f.Description,
		})
	}
	return out, nil
}

func dangling(s journey.Stage, known map[string]bool) []string {
	var out []string
	for _, f := range s.Flows() {
		if !f.IsTerminal() && !known[f.NextStage] {
			out = append(out, fmt.Sprintf("%s %q -> %q", s.Type(), s.ID(), f.NextStage))
		}
	}
	return out
}

func isActive(v *bool) bool {
	return v == nil || *v
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// SeedResult counts what was written.
type SeedResult struct {
	OnboardingStages int
	LearningStages   int
	Students         int
}

// Seed upserts every stage. Students are created only when repo is non-nil;
// ones that already exist are left untouched.
func (c *Catalog) Seed(ctx context.Context, w journey.StageCatalogWriter, repo student.Repository, now time.Time) (SeedResult, error) {
	var res SeedResult

	for _, s := range c.Onboarding {
		if err := w.UpsertOnboardingStage(ctx, s); err != nil {
			return res, fmt.Errorf("seed onboarding stage %q: %w", s.StageName, err)
		}
		res.OnboardingStages++
	}
	for _, s := range c.Learning {
		if err := w.UpsertLearningStage(ctx, s); err != nil {
			return res, fmt.Errorf("seed learning stage %q: %w", s.Key, err)
		}
		res.LearningStages++
	}

	if repo == nil {
		return res, nil
	}
	for _, st := range c.Students {
		enrollments := make([]student.Enrollment, 0, len(st.Enrollments))
		for _, e := range st.Enrollments {
			enrollments = append(enrollments, student.Enrollment{Course: e.Course, Batch: e.Batch})
		}
		err := repo.Create(ctx, &student.Student{
			ID:          st.ID,
			GlificID:    student.GlificID(st.GlificID),
			Phone:       shared.Phone(st.Phone),
			Name:        st.Name,
			Enrollments: enrollments,
			CreatedAt:   now,
		})
		if err != nil {
			if shared.IsAlreadyExists(err) {
				continue
			}
			return res, fmt.Errorf("seed student %q: %w", st.ID, err)
		}
		res.Students++
	}
	return res, nil
}
