package main

import (
	"flag"
	"fmt"
	"os"
)

// Flags are the command line overrides of the config file
type Flags struct {
	ConfigFile  string
	Port        int
	Host        string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	TLSCert     string
	TLSKey      string
	Version     bool
}

func ParseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file (default $HOME/.dart.yaml)")
	flag.IntVar(&flags.Port, "port", 0, "Server port (overrides server.port)")
	flag.StringVar(&flags.Host, "host", "", "Server host (overrides server.host)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Log format (json, text)")
	flag.IntVar(&flags.MetricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port instead of the API port")
	flag.StringVar(&flags.TLSCert, "tls-cert", "", "Path to TLS certificate")
	flag.StringVar(&flags.TLSKey, "tls-key", "", "Path to TLS key")
	flag.BoolVar(&flags.Version, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDisclosure Avoidance Redaction Tool API server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flags.Version {
		info := GetBuildInfo()
		fmt.Printf("Version: %s\n", info.Version)
		fmt.Printf("Git Commit: %s\n", info.GitCommit)
		fmt.Printf("Build Date: %s\n", info.BuildDate)
		fmt.Printf("Go Version: %s\n", info.GoVersion)
		fmt.Printf("Platform: %s\n", info.Platform)
		os.Exit(0)
	}

	return flags
}
