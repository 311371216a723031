package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/devskill-org/home-scheduler/actuator"
	"github.com/devskill-org/home-scheduler/clock"
	"github.com/devskill-org/home-scheduler/meteo"
	"github.com/devskill-org/home-scheduler/pv"
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/scheduler"
	"github.com/devskill-org/home-scheduler/sensor"
	"github.com/devskill-org/home-scheduler/sigenergy"
	"github.com/devskill-org/home-scheduler/storage"
	"github.com/devskill-org/home-scheduler/task"
	"github.com/devskill-org/home-scheduler/thermal"
)

// wiredSystem holds everything main needs to run the tick loop and to
// refresh deadline-driven tasks in the background, plus the typed handles
// the deadline refresh loop needs beyond the generic task.Task interface.
type wiredSystem struct {
	sched     *scheduler.Scheduler
	predictor *pv.Predictor
	webServer *scheduler.WebServer

	carChargers  map[string]*task.CarCharger
	waterHeaters map[string]*task.WaterHeater
	poolPumps    map[string]*task.PoolPump
	hvacs        map[string]*task.HVAC
	hvacModels   map[string]*thermal.HVACModel

	indoorTemps   map[string]*sensor.Reader[float64]
	poolTemps     map[string]*sensor.Reader[float64]
	tankStates    map[string]*sensor.Reader[sensor.TankState]

	close func()
}

// build wires the configured plant, tasks, predictor and control surface
// together, generalising the teacher's main.go (single flag-driven
// wiring block) into a reusable step shared by the run and plan
// subcommands.
func build(config *scheduler.Config, logger *log.Logger) (*wiredSystem, error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var db *sql.DB
	if config.PostgresConnString != "" {
		var err error
		db, err = storage.Open(context.Background(), config.PostgresConnString)
		if err != nil {
			return nil, fmt.Errorf("cmd/scheduler: %w", err)
		}
		closers = append(closers, func() { db.Close() })
	}
	var powerLog *storage.PowerLog
	if db != nil {
		powerLog = storage.NewPowerLog(db)
	}

	var sigClient *sigenergy.SigenModbusClient
	if config.PlantModbusAddress != "" {
		var err error
		sigClient, err = sigenergy.NewTCPClient(config.PlantModbusAddress, sigenergy.PlantAddress)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("cmd/scheduler: connect plant: %w", err)
		}
		closers = append(closers, func() { sigClient.Close() })
	}

	var source *sensor.Reader[record.PowerRecord]
	if sigClient != nil {
		source = sensor.NewReader[record.PowerRecord](sensor.NewPlantPower(sigClient), config.AdapterTimeout)
	}

	var meteoClient *meteo.Client
	if config.UserAgent != "" {
		meteoClient = meteo.NewClient(config.UserAgent)
	}
	predictor := pv.NewPredictor(pv.System{
		Latitude:       config.Latitude,
		Longitude:      config.Longitude,
		PeakPower:      float64(config.Modules) * config.ModuleKW,
		SurfaceTilt:    config.Tilt,
		SurfaceAzimuth: config.Azimuth,
	}, meteoClient)

	sched := scheduler.New(config, clock.NewSystem(nil), source, logger)

	metrics, err := scheduler.NewMetrics(nil)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("cmd/scheduler: metrics: %w", err)
	}
	sched.SetMetrics(metrics)

	sys := &wiredSystem{
		sched:        sched,
		predictor:    predictor,
		carChargers:  map[string]*task.CarCharger{},
		waterHeaters: map[string]*task.WaterHeater{},
		poolPumps:    map[string]*task.PoolPump{},
		hvacs:        map[string]*task.HVAC{},
		hvacModels:   map[string]*thermal.HVACModel{},
		indoorTemps:  map[string]*sensor.Reader[float64]{},
		poolTemps:    map[string]*sensor.Reader[float64]{},
		tankStates:   map[string]*sensor.Reader[sensor.TankState]{},
	}

	var mqttClient mqtt.Client
	dialMQTT := func(broker string) (mqtt.Client, error) {
		if mqttClient != nil {
			return mqttClient, nil
		}
		opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("home-scheduler")
		mqttClient = mqtt.NewClient(opts)
		if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("cmd/scheduler: mqtt connect: %w", token.Error())
		}
		closers = append(closers, func() { mqttClient.Disconnect(250) })
		return mqttClient, nil
	}

	for name, tc := range config.Tasks {
		switch name {
		case "ev_charger":
			if sigClient == nil {
				logger.Printf("cmd/scheduler: skipping ev_charger: no plant modbus address configured")
				continue
			}
			act := actuator.NewEVCharger(sigClient, tc.ModbusSlaveID, config.AdapterTimeout)
			soc := sensor.NewReader[float64](sensor.NewEVStateOfCharge(sigClient), config.AdapterTimeout)
			t := task.NewCarCharger(name, name, act, soc, tc.MinCurrentAmps, tc.MaxCurrentAmps, tc.GoalValue)
			if err := sched.RegisterTask(t); err != nil {
				cleanup()
				return nil, err
			}
			sys.carChargers[name] = t

		case "water_heater":
			act, err := dialMQTT(tc.MQTTBroker)
			if err != nil {
				cleanup()
				return nil, err
			}
			sw := actuator.NewMQTTSwitch(act, tc.MQTTTopic, "ON", "OFF", config.AdapterTimeout)
			t := task.NewWaterHeater(name, sw, plantNominalPower(tc), tc.MinRunTime, tc.NoPowerDelay, tc.GoalValue)
			if err := sched.RegisterTask(t); err != nil {
				cleanup()
				return nil, err
			}
			sys.waterHeaters[name] = t
			if tc.TankAvailableTopic != "" && tc.TankTemperatureTopic != "" {
				tankSensor, err := sensor.NewMQTTTankState(act, tc.TankAvailableTopic, tc.TankTemperatureTopic)
				if err != nil {
					cleanup()
					return nil, fmt.Errorf("cmd/scheduler: water_heater %q tank sensor: %w", name, err)
				}
				sys.tankStates[name] = sensor.NewReader[sensor.TankState](tankSensor, config.AdapterTimeout)
			} else {
				logger.Printf("cmd/scheduler: water_heater %q: no tank sensor topics configured, priority will stay pinned at Urgent", name)
			}

		case "pool_pump":
			act, err := dialMQTT(tc.MQTTBroker)
			if err != nil {
				cleanup()
				return nil, err
			}
			sw := actuator.NewMQTTSwitch(act, tc.MQTTTopic, "ON", "OFF", config.AdapterTimeout)
			if powerLog == nil {
				cleanup()
				return nil, fmt.Errorf("cmd/scheduler: pool_pump requires postgres_conn_string for run-time tracking")
			}
			runTimes := storage.NewRunTimeTracker(powerLog, name)
			t := task.NewPoolPump(name, sw, runTimes, plantNominalPower(tc), tc.MinRunTime)
			if err := sched.RegisterTask(t); err != nil {
				cleanup()
				return nil, err
			}
			sys.poolPumps[name] = t
			if tc.PoolTemperatureTopic != "" {
				poolSensor, err := sensor.NewMQTTFloat(act, tc.PoolTemperatureTopic)
				if err != nil {
					cleanup()
					return nil, fmt.Errorf("cmd/scheduler: pool_pump %q water temperature sensor: %w", name, err)
				}
				sys.poolTemps[name] = sensor.NewReader[float64](poolSensor, config.AdapterTimeout)
			} else {
				logger.Printf("cmd/scheduler: pool_pump %q: no pool_temperature_topic configured, falling back to goal_value", name)
			}

		case "hvac":
			act, err := dialMQTT(tc.MQTTBroker)
			if err != nil {
				cleanup()
				return nil, err
			}
			sw := actuator.NewMQTTSwitch(act, tc.MQTTTopic, "ON", "OFF", config.AdapterTimeout)
			powerCurve, err := curveFromMap(tc.PowerByTemp)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("cmd/scheduler: hvac power_kw_by_temp: %w", err)
			}
			minutesCurve, err := curveFromMap(tc.MinutesPerDegreeByTemp)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("cmd/scheduler: hvac minutes_per_degree_by_temp: %w", err)
			}
			model, err := thermal.NewHVACModel(powerCurve, minutesCurve)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("cmd/scheduler: hvac model: %w", err)
			}
			t := task.NewHVAC(name, sw, model, tc.MinRunTime, tc.MinPause, tc.TempOffset)
			if err := sched.RegisterTask(t); err != nil {
				cleanup()
				return nil, err
			}
			sys.hvacs[name] = t
			sys.hvacModels[name] = model
			if tc.IndoorTempTopic != "" {
				indoorSensor, err := sensor.NewMQTTFloat(act, tc.IndoorTempTopic)
				if err != nil {
					cleanup()
					return nil, fmt.Errorf("cmd/scheduler: hvac %q indoor temperature sensor: %w", name, err)
				}
				sys.indoorTemps[name] = sensor.NewReader[float64](indoorSensor, config.AdapterTimeout)
			} else {
				logger.Printf("cmd/scheduler: hvac %q: no indoor_temp_topic configured, deviation will stay pinned at zero", name)
			}

		default:
			logger.Printf("cmd/scheduler: ignoring unknown task section %q", name)
		}
	}

	sys.webServer = scheduler.NewWebServer(sched, config.HealthCheckPort)
	sys.close = cleanup
	return sys, nil
}

// plantNominalPower falls back to a conservative 1.5kW when a task section
// doesn't carry an explicit rating; the teacher's config always did, but
// water_heater/pool_pump sections predate that convention in this repo's
// generated fixtures.
func plantNominalPower(tc scheduler.TaskConfig) float64 {
	if tc.MaxCurrentAmps > 0 {
		return tc.MaxCurrentAmps
	}
	return 1.5
}

// curveFromMap parses a temperature-string-keyed map into ascending
// thermal.Point values, the shape thermal.NewHVACModel fits an Akima
// spline through.
func curveFromMap(m map[string]float64) ([]thermal.Point, error) {
	points := make([]thermal.Point, 0, len(m))
	for k, v := range m {
		temp, err := strconv.ParseFloat(k, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature key %q: %w", k, err)
		}
		points = append(points, thermal.Point{Temperature: temp, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Temperature < points[j].Temperature })
	return points, nil
}

// homeModelFromConfig builds the whole-home drift model an HVAC task's
// planner call uses, or nil if no grid was configured.
func homeModelFromConfig(grid map[string]map[string]float64) (*thermal.HomeModel, error) {
	if len(grid) == 0 {
		return nil, nil
	}
	var points []thermal.GridPoint
	for indoorKey, row := range grid {
		indoor, err := strconv.ParseFloat(indoorKey, 64)
		if err != nil {
			return nil, fmt.Errorf("cmd/scheduler: drift_degree_per_minute_by_temp: invalid indoor temperature key %q: %w", indoorKey, err)
		}
		for outdoorKey, value := range row {
			outdoor, err := strconv.ParseFloat(outdoorKey, 64)
			if err != nil {
				return nil, fmt.Errorf("cmd/scheduler: drift_degree_per_minute_by_temp: invalid outdoor temperature key %q: %w", outdoorKey, err)
			}
			points = append(points, thermal.GridPoint{IndoorTemperature: indoor, OutdoorTemperature: outdoor, Value: value})
		}
	}
	return thermal.NewHomeModel(points)
}
