// Command camctld is the on-device timelapse camera controller.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldcam/camctl/internal/archiver"
	"github.com/fieldcam/camctl/internal/bus"
	"github.com/fieldcam/camctl/internal/cameraio"
	"github.com/fieldcam/camctl/internal/config"
	"github.com/fieldcam/camctl/internal/diag"
	"github.com/fieldcam/camctl/internal/logger"
	"github.com/fieldcam/camctl/internal/reportstore"
	"github.com/fieldcam/camctl/internal/resource"
	"github.com/fieldcam/camctl/internal/timesync"
	"github.com/fieldcam/camctl/internal/update"
	"github.com/fieldcam/camctl/internal/web"
	"github.com/fieldcam/camctl/pkg/health"
)

// Build info set at compile time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	logger.Init()
	log := logger.Default()

	log.Info("camctl starting", "version", Version, "commit", GitCommit)

	configPath := os.Getenv("CAMCTL_CONFIG")
	if configPath == "" {
		configPath = "/data/config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn("could not load config, using defaults", "path", configPath, "error", err)
		defaults := config.DefaultConfig()
		cfg = &defaults
		if err := config.Save(configPath, cfg); err != nil {
			log.Warn("could not save default config", "error", err)
		}
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	events := bus.NewChan(256)

	var camUsername, camPassword string
	if cfg.Camera.Auth != nil {
		camUsername = cfg.Camera.Auth.Username
		camPassword = cfg.Camera.Auth.Password
	}

	coord := cameraio.New(cameraio.Config{
		BaseURL:               cfg.Camera.BaseURL,
		Username:              camUsername,
		Password:              camPassword,
		ProbeTimeoutSeconds:   cfg.Camera.ProbeTimeoutSeconds,
		RequestTimeoutSeconds: cfg.Camera.RequestTimeoutSeconds,
		OnDisconnect: func() {
			events.Publish("camera_disconnected", nil)
		},
		OnReconnect: func(desc cameraio.Descriptor) {
			events.Publish("camera_connected", map[string]any{"base_url": desc.BaseURL})
		},
	})

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 30*time.Second)
	if _, err := coord.Connect(connectCtx); err != nil {
		log.Warn("could not connect to camera at startup, will keep retrying in the background", "error", err)
		go func() {
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-time.After(30 * time.Second):
				}
				if _, err := coord.Connect(rootCtx); err == nil {
					log.Info("connected to camera")
					return
				}
			}
		}()
	}
	cancelConnect()

	limiter := resource.DefaultLimiter()

	var arc *archiver.Archiver
	if cfg.Archive != nil && cfg.Archive.Enabled {
		arc = archiver.New(archiver.Config{
			Enabled:               cfg.Archive.Enabled,
			Host:                  cfg.Archive.Host,
			Port:                  cfg.Archive.Port,
			Username:              cfg.Archive.Username,
			Password:              cfg.Archive.Password,
			BasePath:              cfg.Archive.RemotePath,
			TimeoutConnectSeconds: cfg.Archive.TimeoutConnectSeconds,
		}, limiter)
	}

	reportDir := os.Getenv("CAMCTL_REPORT_DIR")
	if reportDir == "" {
		reportDir = "/data/reports"
	}
	store, err := reportstore.Open(reportDir, arc)
	if err != nil {
		log.Error("could not open report store", "path", reportDir, "error", err)
		os.Exit(1)
	}

	var sampler *diag.Sampler
	if cfg.SNTP != nil {
		sampler = diag.New(diag.Config{
			Enabled:              cfg.SNTP.Enabled,
			Servers:              cfg.SNTP.Servers,
			CheckIntervalSeconds: cfg.SNTP.CheckIntervalSeconds,
			TimeoutSeconds:       cfg.SNTP.TimeoutSeconds,
		})
		sampler.Start()
	}

	requester := timesync.NewBusRequester(events)
	proxy := timesync.New(timesync.Config{}, coord, timesync.SystemClock{}, requester, events)
	proxy.Start(rootCtx)

	updateChecker := update.NewChecker(Version, GitCommit)
	updateChecker.Start()

	sysMonitor := health.NewSystemMonitor(reportDir)

	webPort := 8080
	webPassword := ""
	if cfg.Web != nil {
		webPort = cfg.Web.Port
		webPassword = cfg.Web.Password
	}

	server := web.NewServer(rootCtx, web.Config{
		Port:        webPort,
		Password:    webPassword,
		Coordinator: coord,
		Store:       store,
		Proxy:       proxy,
		Events:      events,
	})

	server.GetMux().HandleFunc("/healthz/system", health.EnhancedHealthHandler(func() health.HealthStatus {
		connected := coord.Connected()
		status := "healthy"
		if !connected {
			status = "unhealthy"
		}
		return health.HealthStatus{
			Status:          status,
			Timestamp:       time.Now().UTC(),
			CameraConnected: connected,
			TimeProxyValid:  proxy.IsValid(),
			ArchiveOK:       arc == nil || cfg.Archive == nil || !cfg.Archive.Enabled || arc.TestConnection() == nil,
		}
	}))
	server.GetMux().HandleFunc("/api/system", func(w http.ResponseWriter, r *http.Request) {
		if _, password, ok := r.BasicAuth(); !ok || password != webPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="camctl"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sysMonitor.GetStats())
	})

	go func() {
		log.Info("web console listening", "port", webPort)
		if err := server.Start(); err != nil {
			log.Error("web server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	cancelRoot()
	updateChecker.Stop()
	if sampler != nil {
		sampler.Stop()
	}
	coord.Close()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("error stopping web server", "error", err)
	}

	log.Info("goodbye")
}
