package main

import "flag"

// Options holds CLI options for the router.
type Options struct {
	ConfigPath string
	Listen     string
	Kind       string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("zrm-router", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "Listen address override (e.g. :7447)")
	fs.StringVar(&opts.Kind, "kind", "tcp", "Link kind for -listen: tcp|quic")
	_ = fs.Parse(args)
	return opts
}
