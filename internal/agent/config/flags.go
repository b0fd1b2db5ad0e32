package config

import (
	"flag"
	"os"
	"time"

	"github.com/fokuslabs/focusgate/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   base URL of the sync gateway
//	-f string   path to the local cache file
//	-u string   user id
//	-d string   device id
//	-s string   device secret
//	-i int      recheck interval in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-u", "-d", "-s", "-i"})

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)

	fs.StringVar(&cfg.GatewayAddr, "a", cfg.GatewayAddr, "base URL of the sync gateway")
	fs.StringVar(&cfg.CachePath, "f", cfg.CachePath, "path to the local cache file")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.StringVar(&cfg.DeviceID, "d", cfg.DeviceID, "device id")
	fs.StringVar(&cfg.DeviceSecret, "s", cfg.DeviceSecret, "device secret")
	recheck := fs.Int("i", int(cfg.RecheckInterval.Seconds()), "recheck interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RecheckInterval = time.Duration(*recheck) * time.Second
}
