package journey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnboardingJourney_MoveTo(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	j := &OnboardingJourney{StudentID: "stu-1", Status: JourneyNotStarted}

	j.MoveTo("welcome", now)

	assert.Equal(t, "welcome", j.CurrentStage)
	assert.Equal(t, JourneyInProgress, j.Status)
	assert.Equal(t, now, j.StartedAt)
	assert.Equal(t, now, j.LastActivityAt)
}

func TestOnboardingJourney_CompleteOnce(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	j := NewOnboardingJourney("j-1", "stu-1", "welcome", start)

	first := start.Add(time.Hour)
	assert.True(t, j.Complete("done", first))
	require.NotNil(t, j.CompletedAt)
	assert.Equal(t, first, *j.CompletedAt)
	assert.Equal(t, JourneyCompleted, j.Status)
	assert.Equal(t, "done", j.CurrentStage)

	second := first.Add(time.Hour)
	assert.False(t, j.Complete("done", second))
	assert.Equal(t, first, *j.CompletedAt)
	assert.Equal(t, second, j.LastActivityAt)
}

func TestInteractionLog_Mappings(t *testing.T) {
	stage := &LearningStage{Key: "LS-1", Course: "math"}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	log := NewInteractionLog("log-1", "stu-1", EventFlowCompleted, stage, "math", Message{Body: "hi"}, ProgressInfo{}, now)
	assert.Equal(t, InteractionMessage, log.InteractionType)
	assert.Equal(t, "Completed LearningStage: LS-1 in math", log.SystemAction)
	assert.Equal(t, AgencyDirected, log.Agency)
	assert.Equal(t, "text", log.MessageType)
	assert.Equal(t, "hi", log.Content)

	log = NewInteractionLog("log-2", "stu-1", EventAssessmentSubmitted, stage, "", Message{}, ProgressInfo{}, now)
	assert.Equal(t, InteractionQuiz, log.InteractionType)
	assert.Equal(t, "Assessment submitted for LearningStage: LS-1", log.SystemAction)

	onboarding := &OnboardingStage{StageName: "welcome"}
	log = NewInteractionLog("log-3", "stu-1", EventFlowExpired, onboarding, "", Message{}, ProgressInfo{}, now)
	assert.Equal(t, "OnboardingStage welcome expired: unknown", log.SystemAction)

	log = NewInteractionLog("log-4", "stu-1", EventMessageReceived, onboarding, "", Message{}, ProgressInfo{}, now)
	assert.Equal(t, AgencySelfDetermined, log.Agency)
	assert.Equal(t, "Interaction with OnboardingStage: welcome", log.SystemAction)

	assert.Equal(t, InteractionHelpRequest, InteractionTypeOf(EventLearningChoiceMade))
}
