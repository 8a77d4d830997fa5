package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tap-lms/journey-hub/config"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/internal/infrastructure/stageconfig"
)

func newStagesCmd() *cobra.Command {
	stagesCmd := &cobra.Command{
		Use:   "stages",
		Short: "Manage the stage catalog",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a catalog file and report problems without touching storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			catalog, err := stageconfig.LoadFile(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d onboarding stage(s), %d learning stage(s), %d student(s)\n",
				len(catalog.Onboarding), len(catalog.Learning), len(catalog.Students))
			for _, d := range catalog.Dangling {
				fmt.Fprintf(out, "warning: undefined next stage: %s\n", d)
			}
			return nil
		},
	}
	validateCmd.Flags().String("file", "", "Stage catalog YAML file")
	_ = validateCmd.MarkFlagRequired("file")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert every stage in a catalog file into the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			withStudents, _ := cmd.Flags().GetBool("students")

			catalog, err := stageconfig.LoadFile(file)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.StoreMemory {
				return fmt.Errorf("seeding the memory store from the CLI has no effect; set STAGES_FILE for the server instead")
			}

			backend, err := openBackend(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			var students student.Repository
			if withStudents {
				students = backend.Students
			}
			res, err := catalog.Seed(cmd.Context(), backend.Stages, students, time.Now().In(cfg.App.Location))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seeded %d onboarding stage(s), %d learning stage(s), %d student(s)\n",
				res.OnboardingStages, res.LearningStages, res.Students)
			for _, d := range catalog.Dangling {
				fmt.Fprintf(out, "warning: undefined next stage: %s\n", d)
			}
			return nil
		},
	}
	seedCmd.Flags().String("file", "", "Stage catalog YAML file")
	seedCmd.Flags().Bool("students", false, "Also create the students listed in the file")
	_ = seedCmd.MarkFlagRequired("file")

	stagesCmd.AddCommand(validateCmd, seedCmd)
	return stagesCmd
}
