package dmail

import (
	"errors"
	"fmt"
	"os"

	"github.com/mjl-/sconf"

	"github.com/kagami/dmail/mlog"
)

var xlog = mlog.New("dmail")

// ConfigPath is set early in program startup, before MustLoadConfig is called.
var ConfigPath string

// Conf is the parsed configuration. Loaded once at startup, not changed while
// running.
var Conf Config

var ErrConfig = errors.New("config error")

// Config is the configuration file for the dmail engine, parsed with sconf.
type Config struct {
	DataDir          string   `sconf-doc:"Directory where the message database is stored. If relative, it is relative to the directory of the configuration file."`
	LogLevel         string   `sconf:"optional" sconf-doc:"Default log level: error, info, debug. Default error."`
	Listen           string   `sconf:"optional" sconf-doc:"Address to serve the HTTP API and metrics on. Default localhost:8036."`
	CapabilityKey    string   `sconf-doc:"Secret key for signing message-view capability links. Tokens signed with this key let their holder read a message without logging in."`
	SystemUser       string   `sconf:"optional" sconf-doc:"Display name of the distinguished system sender for automated messages. Created at startup if missing. Default System."`
	SpamWords        []string `sconf:"optional" sconf-doc:"Words that count towards the spam score of a message."`
	SpamMinHits      int      `sconf:"optional" sconf-doc:"Number of spam word hits after which a message is flagged as spam. Default 3."`
	SpamMaxLinks     int      `sconf:"optional" sconf-doc:"Number of links in a message body after which it is flagged as spam. 0 disables the check. Default 5."`
	SendsPerIPMinute int      `sconf:"optional" sconf-doc:"Maximum number of sends per originating IP address per minute. 0 disables rate limiting. Default 60."`
}

// LoadConfig parses the config file at ConfigPath into Conf and applies
// defaults.
func LoadConfig() error {
	var c Config
	if err := sconf.ParseFile(ConfigPath, &c); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrConfig, ConfigPath, err)
	}
	if c.LogLevel == "" {
		c.LogLevel = "error"
	}
	level, ok := mlog.Levels[c.LogLevel]
	if !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrConfig, c.LogLevel)
	}
	if c.Listen == "" {
		c.Listen = "localhost:8036"
	}
	if c.SystemUser == "" {
		c.SystemUser = "System"
	}
	if c.SpamMinHits == 0 {
		c.SpamMinHits = 3
	}
	if c.SpamMaxLinks == 0 {
		c.SpamMaxLinks = 5
	}
	if c.SendsPerIPMinute == 0 {
		c.SendsPerIPMinute = 60
	}
	Conf = c
	mlog.SetConfig(map[string]mlog.Level{"": level})
	return nil
}

// MustLoadConfig loads the config file, aborting the program on error.
func MustLoadConfig() {
	if err := LoadConfig(); err != nil {
		xlog.Fatalx("loading config", err, mlog.Field("path", ConfigPath))
	}
}

// WriteExampleConfig writes an annotated example config file, for "dmail
// config describe".
func WriteExampleConfig(f *os.File) error {
	c := Config{
		DataDir:       "data",
		LogLevel:      "info",
		Listen:        "localhost:8036",
		CapabilityKey: "replace-with-random-secret",
		SystemUser:    "System",
		SpamWords:     []string{"viagra", "casino"},
	}
	return sconf.Describe(f, &c)
}
