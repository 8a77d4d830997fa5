package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tap-lms/journey-hub/internal/application/command"
	"github.com/tap-lms/journey-hub/internal/application/engine"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

func newStageCmd() *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Inspect or change a single student's stage",
	}

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Apply an event to a student's stage, as the admin endpoint does",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var c command.UpdateStudentStageCommand
			c.StudentID, _ = cmd.Flags().GetString("student")
			c.StageName, _ = cmd.Flags().GetString("stage")
			c.EventType, _ = cmd.Flags().GetString("event")
			c.CourseContext, _ = cmd.Flags().GetString("course")
			c.StageType, _ = cmd.Flags().GetString("type")
			// Validate before touching storage.
			if err := c.Validate(); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			backend, err := openBackend(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			log := quietLogger(cmd.ErrOrStderr())
			eng := engine.New(engine.Deps{
				Stages:      backend.Stages,
				Progress:    backend.Progress,
				Journeys:    backend.Journeys,
				Transitions: backend.Transitions,
				Engagement:  backend.Engagement,
				Learning:    backend.Learning,
				Locker:      backend.Locker,
				Clock:       timeutil.NewSystemClock(cfg.App.Location),
				NewID:       uuid.NewString,
				Logger:      log,
			})
			handler := command.NewUpdateStudentStageHandler(student.NewFinder(backend.Students), eng, log)

			res := handler.Handle(cmd.Context(), c)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("stage update failed: %s", res.Error)
			}
			return nil
		},
	}
	updateCmd.Flags().String("student", "", "Student ID or messaging contact ID")
	updateCmd.Flags().String("stage", "", "Stage name (onboarding) or key (learning)")
	updateCmd.Flags().String("event", string(command.DefaultAdminEvent), "Event type to apply")
	updateCmd.Flags().String("course", "", "Course context")
	updateCmd.Flags().String("type", "", "Restrict lookup to OnboardingStage or LearningStage")
	_ = updateCmd.MarkFlagRequired("student")
	_ = updateCmd.MarkFlagRequired("stage")

	stageCmd.AddCommand(updateCmd)
	return stageCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
