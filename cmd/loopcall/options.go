package main

import (
	"github.com/Wyydra/loop/internal/config"
	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/jessevdk/go-flags"
)

// Options are the command line flags. The struct tags are interpreted by
// github.com/jessevdk/go-flags. Flags that are set win over the config file.
type Options struct {
	Config    string `short:"f" long:"config" description:"config YAML path"`
	Listen    string `short:"l" long:"listen" description:"HTTP listen address"`
	Server    string `short:"s" long:"server" description:"call server base url"`
	Desktop   bool   `long:"desktop" description:"retry without video when the camera cannot be published"`
	LogLevel  string `long:"log-level" description:"log level (debug, info, warn, error)"`
	SQLite    string `long:"sqlite" description:"path of the conversation context database"`
	NoVideo   bool   `long:"no-video" description:"publish audio only"`
	Call      string `long:"call" description:"open an outgoing call window for this email address"`
	AudioOnly bool   `long:"audio-only" description:"make the --call an audio call"`
}

func parseOptions(args []string) (*Options, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// load reads the config file and applies the flags over it.
func (o *Options) load() (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}

	if o.Listen != "" {
		cfg.ListenAddr = o.Listen
	}
	if o.Server != "" {
		cfg.ServerURL = o.Server
	}
	if o.Desktop {
		cfg.Desktop = true
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.SQLite != "" {
		cfg.SQLitePath = o.SQLite
	}
	if o.NoVideo {
		cfg.PublishVideo = false
	}
	return cfg, cfg.Validate()
}

// outgoingWindow is the window data of the --call flag.
func (o *Options) outgoingWindow() domain.SetupWindowData {
	callType := domain.CallTypeAudioVideo
	if o.AudioOnly {
		callType = domain.CallTypeAudioOnly
	}
	return domain.SetupWindowData{
		Type: domain.WindowOutgoing,
		Contact: &domain.Contact{
			Email: []domain.ContactField{{Type: "other", Value: o.Call, Pref: true}},
		},
		CallType: callType,
	}
}
