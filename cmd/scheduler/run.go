package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devskill-org/home-scheduler/meteo"
	"github.com/devskill-org/home-scheduler/planner"
	"github.com/devskill-org/home-scheduler/scheduler"
	"github.com/devskill-org/home-scheduler/sensor"
	"github.com/devskill-org/home-scheduler/task"
	"github.com/devskill-org/home-scheduler/transport"
)

const deadlineRefreshInterval = 15 * time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler tick loop and control surface",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "[scheduler] ", log.LstdFlags)

	config, err := scheduler.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger.Printf("loaded configuration:\n%s", config)

	sys, err := build(config, logger)
	if err != nil {
		return err
	}
	defer sys.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var weather *sensor.Reader[sensor.WeatherSnapshot]
	if config.UserAgent != "" {
		weather = sensor.NewReader[sensor.WeatherSnapshot](
			sensor.NewWeather(meteo.NewClient(config.UserAgent), meteo.Location{Latitude: config.Latitude, Longitude: config.Longitude}),
			config.AdapterTimeout,
		)
	}

	deadlineTicker := time.NewTicker(deadlineRefreshInterval)
	defer deadlineTicker.Stop()
	go func() {
		refreshDeadlines(ctx, sys, config, weather, logger)
		refreshCostHints(sys, config, logger)
		for {
			select {
			case <-deadlineTicker.C:
				refreshDeadlines(ctx, sys, config, weather, logger)
				refreshCostHints(sys, config, logger)
			case <-ctx.Done():
				return
			}
		}
	}()

	if sys.webServer != nil {
		if err := sys.webServer.Start(); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sys.sched.Start(ctx); err != nil {
			logger.Printf("scheduler stopped: %v", err)
		}
	}()

	logger.Printf("scheduler running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Printf("shutdown signal received")

	sys.sched.Stop()
	<-done
	sys.sched.StopAll()

	if sys.webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sys.webServer.Stop(shutdownCtx); err != nil {
			logger.Printf("web server shutdown: %v", err)
		}
	}

	logger.Printf("scheduler stopped")
	return nil
}

// refreshDeadlines recomputes each deadline-driven task's target time (and,
// for HVAC, its planner-derived target temperature) from the current
// weather and PV forecast. It runs far less often than a tick: these
// deadlines drift slowly over the course of a day, unlike the tick's
// second-to-second start/stop decisions.
func refreshDeadlines(ctx context.Context, sys *wiredSystem, config *scheduler.Config, weather *sensor.Reader[sensor.WeatherSnapshot], logger *log.Logger) {
	now := time.Now()
	tomorrowMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

	outdoorTemp := 15.0
	if weather != nil {
		if res := weather.Read(ctx); res.Outcome == transport.OutcomeOK {
			outdoorTemp = res.Value.Temperature
		}
	}
	externalAt := func(time.Time) float64 { return outdoorTemp }

	for name, t := range sys.waterHeaters {
		tc := config.Tasks[name]
		goalTime, err := nextOccurrence(tc.GoalTime, now)
		if err != nil {
			logger.Printf("cmd/scheduler: water_heater %q: %v", name, err)
			continue
		}
		t.SetTargetTime(goalTime)
		if tankReader, ok := sys.tankStates[name]; ok {
			if res := tankReader.Read(ctx); res.Outcome == transport.OutcomeOK {
				t.UpdateState(res.Value.Available, res.Value.Temperature)
			} else {
				logger.Printf("cmd/scheduler: water_heater %q: tank sensor: %v", name, res.Err)
			}
		}
	}

	for name, t := range sys.poolPumps {
		tc := config.Tasks[name]
		goalTime, err := nextOccurrence(tc.GoalTime, now)
		if err != nil {
			logger.Printf("cmd/scheduler: pool_pump %q: %v", name, err)
			continue
		}
		waterTemp := tc.GoalValue
		if poolReader, ok := sys.poolTemps[name]; ok {
			if res := poolReader.Read(ctx); res.Outcome == transport.OutcomeOK {
				waterTemp = res.Value
			} else {
				logger.Printf("cmd/scheduler: pool_pump %q: water temperature sensor: %v", name, res.Err)
			}
		}
		required := task.RuntimeMinutesForTemperature(waterTemp)
		t.ConfigureCycle(goalTime, required)
	}

	for name, t := range sys.hvacs {
		tc := config.Tasks[name]
		goalTime, err := nextOccurrence(tc.GoalTime, now)
		if err != nil {
			logger.Printf("cmd/scheduler: hvac %q: %v", name, err)
			continue
		}
		homeModel, err := homeModelFromConfig(tc.DriftDegreePerMinute)
		if err != nil || homeModel == nil {
			logger.Printf("cmd/scheduler: hvac %q: no home drift model configured, skipping deadline refresh", name)
			continue
		}
		model := sys.hvacModels[name]
		curve := planner.Curve{PowerAt: model.Power, PassiveDriftAt: homeModel.DegreePerMinute}
		deadline, err := planner.Plan(sys.predictor, curve, externalAt, now, tomorrowMidnight, goalTime, tc.GoalValue, tc.GoalValue-2, tc.GoalValue+2)
		if err != nil {
			logger.Printf("cmd/scheduler: hvac %q: plan: %v", name, err)
			continue
		}

		indoorTemp := deadline.TargetValue
		if indoorReader, ok := sys.indoorTemps[name]; ok {
			if res := indoorReader.Read(ctx); res.Outcome == transport.OutcomeOK {
				indoorTemp = res.Value
			} else {
				logger.Printf("cmd/scheduler: hvac %q: indoor temperature sensor: %v", name, res.Err)
			}
		}
		t.UpdateReadings(indoorTemp, outdoorTemp, task.ModeAuto)
		t.SetDeadline(deadline.TargetTime, deadline.TargetValue)
		t.SetMaxAvailablePower(deadline.MaxAvailablePower)
	}
}

// nextOccurrence parses a "15:04" wall-clock time and returns its next
// occurrence at or after now, rolling to tomorrow if that time of day has
// already passed today. An empty goalTime disables the deadline.
func nextOccurrence(goalTime string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", goalTime, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if next.Before(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}
