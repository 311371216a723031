package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/devskill-org/home-scheduler/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Run a single tick against live readings and print each task's resulting status",
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "[plan] ", log.LstdFlags)

	config, err := scheduler.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	sys, err := build(config, logger)
	if err != nil {
		return err
	}
	defer sys.close()

	statuses := sys.sched.Subscribe()
	sys.sched.Tick(context.Background())

	select {
	case batch := <-statuses:
		fmt.Printf("%-14s %-10s %-8s %-8s %s\n", "TASK", "PRIORITY", "RUNNING", "RUNNABLE", "DESC")
		for _, s := range batch {
			fmt.Printf("%-14s %-10s %-8v %-8v %s\n", s.ID, s.Priority, s.Running, s.Runnable, s.Desc)
		}
	default:
		fmt.Println("no tasks registered")
	}
	return nil
}
