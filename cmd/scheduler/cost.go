package main

import (
	"context"
	"log"
	"time"

	"github.com/devskill-org/home-scheduler/entsoe"
	"github.com/devskill-org/home-scheduler/scheduler"
)

// costHinter is satisfied by every task type's SetCostHint, letting
// refreshCostHints annotate all four without widening the task.Task
// interface for a status-only concern (DESIGN.md: cost annotation, never a
// scheduling input).
type costHinter interface {
	SetCostHint(costPerKWh float64)
}

// refreshCostHints pulls the current day-ahead ENTSO-E price and pushes it
// into every task's status string. It never feeds a scheduling decision:
// Tick never calls into this file.
func refreshCostHints(sys *wiredSystem, config *scheduler.Config, logger *log.Logger) {
	if config.EntsoeSecurityToken == "" || config.EntsoeUrlFormat == "" {
		return
	}
	location := time.Local
	if config.Location != "" {
		loc, err := time.LoadLocation(config.Location)
		if err != nil {
			logger.Printf("cmd/scheduler: entsoe: invalid location %q: %v", config.Location, err)
		} else {
			location = loc
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doc, err := entsoe.DownloadPublicationMarketDocument(ctx, config.EntsoeSecurityToken, config.EntsoeUrlFormat, location)
	if err != nil {
		logger.Printf("cmd/scheduler: entsoe: download: %v", err)
		return
	}

	priceEURPerMWh, ok := doc.LookupPriceByTime(time.Now())
	if !ok {
		logger.Printf("cmd/scheduler: entsoe: no price entry for the current time")
		return
	}
	costPerKWh := priceEURPerMWh / 1000

	hinters := make([]costHinter, 0, len(sys.carChargers)+len(sys.waterHeaters)+len(sys.poolPumps)+len(sys.hvacs))
	for _, t := range sys.carChargers {
		hinters = append(hinters, t)
	}
	for _, t := range sys.waterHeaters {
		hinters = append(hinters, t)
	}
	for _, t := range sys.poolPumps {
		hinters = append(hinters, t)
	}
	for _, t := range sys.hvacs {
		hinters = append(hinters, t)
	}
	for _, h := range hinters {
		h.SetCostHint(costPerKWh)
	}
}
