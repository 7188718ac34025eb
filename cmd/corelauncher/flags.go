package main

import "time"

// GlobalFlags are persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection; an empty URL is derived from the config.
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
	// AutoStart runs start-all once the API is listening.
	AutoStart bool
}

type ConfigureFlags struct {
	DB         string
	Auth       string
	World      string
	Client     string
	DBDelay    time.Duration
	AuthDelay  time.Duration
	WorldDelay time.Duration
	// SkipCheck accepts paths that do not exist yet.
	SkipCheck bool
}

type HistoryFlags struct {
	Limit int
}
