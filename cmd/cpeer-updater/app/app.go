package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/updater/cmd/cpeer-updater/app/options"
	"github.com/autopeer-io/updater/pkg/app"
	"github.com/autopeer-io/updater/pkg/log"
)

const (
	commandName = "cpeer-updater"
	commandDesc = `The Autopeer updater writes a new application image into the inactive
firmware slot of the device and restarts it. The image is either embedded in
the binary or streamed over the network, in which case Wi-Fi is brought up
first. The device is restarted exactly once whether the update succeeds or not.`
)

// envAliases keeps the environment names used by existing device provisioning.
var envAliases = map[string]string{
	"wifi.ssid":     "ESP_SSID",
	"wifi.password": "ESP_PASSWD",
	"firmware.url":  "OTA_LINK",
}

func NewApp() *app.App {
	opts := options.NewUpdaterOptions()
	application := app.NewApp(
		commandName,
		"Update the device firmware over the air",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvAliases(envAliases),
		app.WithSubCommands(newSlotsCommand()),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.UpdaterOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer func() { _ = log.Sync() }()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.EmbeddedImage = embeddedFirmware

		return cfg.NewUpdater().Run(ctx)
	}
}
