package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/inkley/sensorctl/internal/config"
	"github.com/inkley/sensorctl/internal/model"
	"github.com/inkley/sensorctl/internal/monitor"
	"github.com/inkley/sensorctl/internal/notify"
	"github.com/inkley/sensorctl/internal/ports"
	"github.com/inkley/sensorctl/internal/relay"
	"github.com/inkley/sensorctl/internal/repository"
	"github.com/inkley/sensorctl/internal/sensor"
	"github.com/inkley/sensorctl/internal/shell"
	"github.com/inkley/sensorctl/internal/slcan"
	"github.com/inkley/sensorctl/pkg/logger"
)

// version is the local fallback shown when the module never reports its
// firmware version.
const version = "1.0.0"

var (
	// Global flags
	cfgFile     string
	portFlag    string
	bitrateFlag int
	outDirFlag  string
	outFileFlag string
	monitorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "sensorctl",
	Short: "Inkley sensor module command line interface",
	Long: `sensorctl talks to an Inkley sensor module over a serial-line CAN
(SLCAN) adapter: query firmware, stream pressure and temperature readings
to CSV, and watch the stream over MQTT or HTTP.`,
	SilenceUsage: true,
	RunE:         runShell,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List serial ports and flag likely CAN adapters",
	Run:   runScan,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show system and port information",
	Run:   runInfo,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default ./config.yaml)")
	rootCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port of the SLCAN adapter")
	rootCmd.Flags().IntVarP(&bitrateFlag, "bitrate", "b", 0, "CAN bitrate in bit/s")
	rootCmd.Flags().StringVar(&outDirFlag, "out", "", "Output directory for CSV logging")
	rootCmd.Flags().StringVar(&outFileFlag, "file", "", "Output CSV filename")
	rootCmd.Flags().BoolVar(&monitorFlag, "monitor", false, "Enable the HTTP monitor")
	rootCmd.AddCommand(scanCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	// 1. Load Config
	config.LoadConfig(cfgFile)

	// 2. Init Logger
	logger.InitLogger(config.AppConfig.Log.Level)
	logger.Log.Info("Starting sensorctl...")

	// Flags override the config file.
	if portFlag != "" {
		config.AppConfig.Serial.Channel = portFlag
	}
	if bitrateFlag > 0 {
		config.AppConfig.Serial.Bitrate = bitrateFlag
	}
	if outDirFlag != "" {
		config.AppConfig.Output.Dir = outDirFlag
	}
	if outFileFlag != "" {
		config.AppConfig.Output.File = outFileFlag
	}
	if monitorFlag {
		config.AppConfig.Monitor.Enabled = true
	}

	// 3. Init Database
	db := initDB()
	runRepo := repository.NewRunRepository(db)

	// 4. Session controller over the SLCAN transport
	ctrl := sensor.NewController(func(channel string, bitrate int) (sensor.Bus, error) {
		return slcan.Open(channel, bitrate)
	})

	// 5. Optional reading fan-out
	if config.AppConfig.MQTT.Enabled {
		pub, err := relay.New(config.AppConfig.MQTT)
		if err != nil {
			logger.Log.Warnf("MQTT relay disabled: %v", err)
		} else {
			ctrl.AddSink(pub)
			defer pub.Close()
		}
	}

	var mon *monitor.Server
	if config.AppConfig.Monitor.Enabled {
		hub := monitor.NewHub()
		ctrl.AddSink(hub)
		mon = monitor.NewServer(ctrl, runRepo, hub)
		mon.Start(config.AppConfig.Monitor.Listen, config.AppConfig.Monitor.Mode)
	}

	// 6. Interactive shell
	notifier := notify.New(config.AppConfig.Notify.URLs, config.AppConfig.Notify.Template)
	session := shell.Session{
		Channel:    config.AppConfig.Serial.Channel,
		Bitrate:    config.AppConfig.Serial.Bitrate,
		OutDir:     config.AppConfig.Output.Dir,
		OutFile:    config.AppConfig.Output.File,
		FlushEvery: config.AppConfig.Output.FlushEvery,
	}
	sh := shell.New(ctrl, runRepo, notifier, scanOptions(), session, version, os.Stdin, os.Stdout)
	err := sh.Run()

	if mon != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		mon.Stop(ctx)
		cancel()
	}
	return err
}

func scanOptions() ports.Options {
	return ports.Options{
		ExtraKeywords: config.AppConfig.Scan.ExtraKeywords,
		ExcludePorts:  config.AppConfig.Scan.ExcludePorts,
	}
}

func runScan(cmd *cobra.Command, args []string) {
	config.LoadConfig(cfgFile)
	logger.InitLogger(config.AppConfig.Log.Level)
	printPorts(ports.Scan(scanOptions()))
}

func runInfo(cmd *cobra.Command, args []string) {
	config.LoadConfig(cfgFile)
	logger.InitLogger(config.AppConfig.Log.Level)

	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	channel := config.AppConfig.Serial.Channel
	if channel == "" {
		channel = "Not configured"
	}
	fmt.Printf("Configured CAN Channel: %s\n", channel)
	fmt.Printf("CAN Bitrate: %d bit/s\n", config.AppConfig.Serial.Bitrate)
	fmt.Println()
	printPorts(ports.Scan(scanOptions()))
}

func printPorts(infos []ports.PortInfo) {
	if len(infos) == 0 {
		fmt.Println("No serial ports found!")
		return
	}
	for _, p := range infos {
		marker := " "
		if p.Classification == ports.LikelyCAN {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s", marker, p.Device, p.Description)
		if vp := p.VIDPID(); vp != "" {
			fmt.Printf(" [%s]", vp)
		}
		fmt.Println()
	}
	fmt.Println()
	fmt.Println("* likely CAN adapter")
}

func initDB() *gorm.DB {
	var db *gorm.DB
	var err error

	driver := config.AppConfig.Database.Driver
	dsn := config.AppConfig.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "sensorctl.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	db.AutoMigrate(&model.Run{})

	return db
}
