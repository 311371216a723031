package main

import (
	"github.com/spf13/cobra"

	"github.com/devskill-org/home-scheduler/scheduler"
	"github.com/devskill-org/home-scheduler/sigenergy"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the plant's current Modbus readings and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := scheduler.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		return sigenergy.ShowPlantInfo(config.PlantModbusAddress)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
