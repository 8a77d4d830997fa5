package student

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceRepo matches students by filter in insertion order.
type sliceRepo struct {
	students []*Student
	queries  []Filter
}

func (r *sliceRepo) Create(_ context.Context, s *Student) error {
	r.students = append(r.students, s)
	return nil
}

func (r *sliceRepo) GetByID(_ context.Context, id string) (*Student, error) {
	for _, s := range r.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrStudentNotFound
}

func (r *sliceRepo) Find(_ context.Context, f Filter) ([]*Student, error) {
	r.queries = append(r.queries, f)
	var out []*Student
	for _, s := range r.students {
		if f.GlificID != "" && s.GlificID != f.GlificID {
			continue
		}
		if f.Phone != "" && s.Phone.String() != f.Phone {
			continue
		}
		if f.Name != "" && s.Name != f.Name {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func TestFinder_FindByContact_Priority(t *testing.T) {
	repo := &sliceRepo{students: []*Student{
		{ID: "s1", GlificID: "g1", Phone: "111", Name: "Asha"},
		{ID: "s2", GlificID: "g1", Phone: "222", Name: "Ravi"},
		{ID: "s3", GlificID: "g3", Phone: "111", Name: "Meera"},
	}}
	f := NewFinder(repo)
	ctx := context.Background()

	m, err := f.FindByContact(ctx, Contact{ID: "g1", Phone: "222", Name: "Ravi"})
	require.NoError(t, err)
	assert.Equal(t, "s2", m.Student.ID)
	assert.Equal(t, MatchGlificPhoneName, m.Strategy)

	m, err = f.FindByContact(ctx, Contact{ID: "g1", Phone: "222", Name: "Someone Else"})
	require.NoError(t, err)
	assert.Equal(t, "s2", m.Student.ID)
	assert.Equal(t, MatchGlificPhone, m.Strategy)

	m, err = f.FindByContact(ctx, Contact{ID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", m.Student.ID)
	assert.Equal(t, MatchGlific, m.Strategy)
	assert.True(t, m.IsAmbiguous())

	m, err = f.FindByContact(ctx, Contact{Phone: "111", Name: "Meera"})
	require.NoError(t, err)
	assert.Equal(t, "s3", m.Student.ID)
	assert.Equal(t, MatchPhoneName, m.Strategy)
}

func TestFinder_FindByContact_NeverPhoneOnly(t *testing.T) {
	repo := &sliceRepo{students: []*Student{{ID: "s1", GlificID: "g1", Phone: "111", Name: "Asha"}}}

	_, err := NewFinder(repo).FindByContact(context.Background(), Contact{Phone: "111"})
	assert.ErrorIs(t, err, ErrStudentNotFound)
	assert.Empty(t, repo.queries)
}

func TestFinder_FindByID_FallsBackToGlificID(t *testing.T) {
	repo := &sliceRepo{students: []*Student{{ID: "s1", GlificID: "g1", Phone: "111", Name: "Asha"}}}
	f := NewFinder(repo)

	m, err := f.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, MatchPrimaryKey, m.Strategy)

	m, err = f.FindByID(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "s1", m.Student.ID)
	assert.Equal(t, MatchGlific, m.Strategy)

	_, err = f.FindByID(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrStudentNotFound)
}

func TestStudent_ActiveCourses(t *testing.T) {
	s := &Student{Enrollments: []Enrollment{
		{Course: "math", Batch: "b1"},
		{Course: "science"},
		{Course: "math", Batch: "b2"},
		{Course: "english", Batch: "b1"},
	}}

	assert.Equal(t, []string{"math", "english"}, s.ActiveCourses())
}

func TestContact_HasIdentifier(t *testing.T) {
	assert.True(t, Contact{ID: "g1"}.HasIdentifier())
	assert.True(t, Contact{Phone: "111", Name: "Asha"}.HasIdentifier())
	assert.False(t, Contact{Phone: "111"}.HasIdentifier())
	assert.False(t, Contact{}.HasIdentifier())
}
