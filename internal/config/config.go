package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	Secret         string        `mapstructure:"secret"`
	LogLevel       string        `mapstructure:"log_level"`
	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`
	SendBuffer     int           `mapstructure:"send_buffer"`

	Peer PeerConfig `mapstructure:"peer"`
}

// PeerConfig configures a headless mesh participant.
type PeerConfig struct {
	SignalURL     string        `mapstructure:"signal_url"`
	Room          string        `mapstructure:"room"`
	Name          string        `mapstructure:"name"`
	ICEServers    []string      `mapstructure:"ice_servers"`
	AudioRTP      string        `mapstructure:"audio_rtp"`
	VideoRTP      string        `mapstructure:"video_rtp"`
	ScreenRTP     string        `mapstructure:"screen_rtp"`
	ScreenIdle    time.Duration `mapstructure:"screen_idle"`
	AudioPlayback string        `mapstructure:"audio_playback"`
	VideoPlayback string        `mapstructure:"video_playback"`
	ControlAddr   string        `mapstructure:"control_addr"`
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"config":         "",
	"mode":           "mode",
	"port":           "port",
	"log-level":      "log_level",
	"signal-url":     "peer.signal_url",
	"room":           "peer.room",
	"name":           "peer.name",
	"ice-server":     "peer.ice_servers",
	"audio-rtp":      "peer.audio_rtp",
	"video-rtp":      "peer.video_rtp",
	"screen-rtp":     "peer.screen_rtp",
	"audio-playback": "peer.audio_playback",
	"video-playback": "peer.video_playback",
	"control-addr":   "peer.control_addr",
}

// ServerFlags declares the flags of the rendezvous server.
func ServerFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.String("mode", "", "gin mode: debug or release")
	fs.Int("port", 0, "listen port")
	fs.String("log-level", "", "log level")
	return fs
}

// PeerFlags declares the flags of the mesh participant.
func PeerFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.String("log-level", "", "log level")
	fs.String("signal-url", "", "rendezvous websocket URL")
	fs.String("room", "", "room to join")
	fs.String("name", "", "display name")
	fs.StringSlice("ice-server", nil, "ICE server URL, repeatable")
	fs.String("audio-rtp", "", "UDP address receiving outbound opus RTP")
	fs.String("video-rtp", "", "UDP address receiving outbound VP8 RTP")
	fs.String("screen-rtp", "", "UDP address receiving screen VP8 RTP")
	fs.String("audio-playback", "", "UDP address remote audio is relayed to")
	fs.String("video-playback", "", "UDP address remote video is relayed to")
	fs.String("control-addr", "", "listen address of the control API")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "10s")
	v.SetDefault("send_buffer", 32)

	v.SetDefault("peer.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("peer.room", "lobby")
	v.SetDefault("peer.name", "guest")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("peer.screen_idle", "3s")
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			fileName = f.Value.String()
		}
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || key == "" {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads defaults, the config file, MESH_* environment variables and
// the flags in fs, later sources winning. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v, err := newViper(fs)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return cfg, nil
}

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	v *viper.Viper

	mu  sync.RWMutex
	cfg *Config
}

// Watch loads the config like Load and calls onChange with every
// successfully reloaded version.
func Watch(fs *pflag.FlagSet, onChange func(*Config)) (*Watcher, error) {
	v, err := newViper(fs)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v, cfg: cfg}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload")
			return
		}
		w.mu.Lock()
		w.cfg = next
		w.mu.Unlock()
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}
