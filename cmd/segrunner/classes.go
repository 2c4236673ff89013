package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumenimaging/segrunner/internal/domain"
	"github.com/lumenimaging/segrunner/internal/procexec"
	"github.com/lumenimaging/segrunner/internal/pyenv"
)

var classesTask string

func init() {
	classesCmd := &cobra.Command{
		Use:   "classes",
		Short: "List the class names a task can segment",
		Long: `classes lists the anatomical classes a segmentation task can
produce, for use with run --roi. The list comes from the local class
catalog when one is configured, otherwise from the installed tool.`,
		RunE: runClasses,
	}
	classesCmd.Flags().StringVar(&classesTask, "task", "", "segmentation task (default from config)")
	rootCmd.AddCommand(classesCmd)
}

func runClasses(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	task := classesTask
	if task == "" {
		task = cfg.Tool.Task
	}

	opts := lookupClasses(cfg.General.CatalogPath, task, func() domain.ClassOptions {
		resolver := &pyenv.PathResolver{
			Interpreter: cfg.Tool.Interpreter,
			VenvDir:     cfg.Tool.VirtualEnv,
		}
		rt, err := resolver.Resolve()
		if err != nil {
			return domain.FailedClasses(err)
		}
		names, err := pyenv.ListTaskClasses(procexec.NewEngine(), rt, task)
		if err != nil {
			return domain.FailedClasses(err)
		}
		return domain.OKClasses(names)
	})

	switch opts.Availability {
	case domain.ClassesOK:
		for _, name := range opts.Names {
			fmt.Println(name)
		}
		return nil
	case domain.ClassesUnavailable:
		fmt.Printf("Task %q has no published class list; it always segments its full set\n", task)
		return nil
	default:
		return fmt.Errorf("could not retrieve classes: %w", opts.Reason)
	}
}

// lookupClasses consults the on-disk catalog first and probes the tool
// only when the catalog is absent or does not know the task.
func lookupClasses(catalogPath, task string, probe func() domain.ClassOptions) domain.ClassOptions {
	if catalogPath != "" {
		if _, err := os.Stat(catalogPath); err == nil {
			cat, err := domain.LoadClassCatalog(catalogPath)
			if err == nil {
				if opts := cat.ClassesFor(task); opts.Availability == domain.ClassesOK {
					return opts
				}
			}
		}
	}
	return probe()
}
