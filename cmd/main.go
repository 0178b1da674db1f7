package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/canopy-network/generals/lib"
	"github.com/spf13/cobra"
)

const SoftwareVersion = "v0.1.0"

var rootCmd = &cobra.Command{
	Use:   "generals",
	Short: "generals runs the oral messages byzantine agreement protocol",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(SoftwareVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration in use, creating the data directory if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		bz, err := lib.MarshalJSONIndentString(config)
		if err != nil {
			return err
		}
		fmt.Println(bz)
		return nil
	},
}

var (
	config  = lib.Config{}
	l       = lib.LoggerI(nil)
	dataDir = ""
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// loadConfig() reads the configuration from the data directory and builds the logger
func loadConfig() error {
	var err lib.ErrorI
	if config, err = InitializeDataDirectory(dataDir, lib.NewDefaultLogger()); err != nil {
		return err
	}
	lc, err := config.MainConfig.LoggerConfig()
	if err != nil {
		return err
	}
	l = lib.NewLogger(lc, config.DataDirPath)
	return nil
}

// InitializeDataDirectory() populates the data directory with a default configuration if missing
func InitializeDataDirectory(dataDirPath string, log lib.LoggerI) (lib.Config, lib.ErrorI) {
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		return lib.Config{}, lib.ErrWriteFile(err)
	}
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ConfigFilePath)
		c := lib.DefaultConfig()
		c.DataDirPath = dataDirPath
		if e := c.WriteToFile(configFilePath); e != nil {
			return lib.Config{}, e
		}
	}
	c, err := lib.NewConfigFromFile(configFilePath)
	if err != nil {
		return lib.Config{}, err
	}
	c.DataDirPath = dataDirPath
	return c, nil
}
