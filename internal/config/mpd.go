// SPDX-License-Identifier: GPL-3.0-only

// Package config reads the MPD daemon configuration that mpdcast-dab
// piggybacks on. MPD's own format is almost TOML: two rewrites close the
// gap, after which the file parses with a regular TOML decoder.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/BurntSushi/toml"
)

// MPD holds the subset of the MPD configuration the cast bridge needs.
type MPD struct {
	// Port is MPD's control port (the "idle" connection target).
	Port int
	// StreamPort is the port of the httpd audio output the cast device pulls from.
	StreamPort int
	// DeviceName is the friendly name of the cast device, taken from the
	// httpd output's name attribute.
	DeviceName string
}

var (
	// `name { ... }` blocks become TOML array-of-table headers.
	braceGroup = regexp.MustCompile(`(?s)\n([^\s#]*?)[ \t]*\{(.*?)\}`)
	// `key value` lines become `key = value`.
	keyValue = regexp.MustCompile(`(?m)^[ \t]*(\w+)[ \t]*(.*)$`)
)

// rewriteTOML converts MPD config syntax into TOML.
func rewriteTOML(raw string) string {
	s := braceGroup.ReplaceAllString("\n"+raw, "\n[[$1]]$2\n")
	return keyValue.ReplaceAllString(s, "$1 = $2")
}

type mpdFile struct {
	Port        any           `toml:"port"`
	AudioOutput []audioOutput `toml:"audio_output"`
}

type audioOutput struct {
	Type string `toml:"type"`
	Port any    `toml:"port"`
	Name string `toml:"name"`
}

// Load reads and parses the MPD configuration file at path.
func Load(path string) (*MPD, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mpd config: %w", err)
	}
	return Parse(string(raw))
}

// Parse parses MPD configuration text.
func Parse(raw string) (*MPD, error) {
	var file mpdFile
	if _, err := toml.Decode(rewriteTOML(raw), &file); err != nil {
		return nil, fmt.Errorf("parse mpd config: %w", err)
	}

	cfg := &MPD{Port: 6600}
	if file.Port != nil {
		port, err := asPort(file.Port)
		if err != nil {
			return nil, fmt.Errorf("invalid mpd port: %w", err)
		}
		cfg.Port = port
	}

	httpdDefined := false
	for _, out := range file.AudioOutput {
		if out.Type != "httpd" {
			continue
		}
		httpdDefined = true
		if out.Port != nil {
			port, err := asPort(out.Port)
			if err != nil {
				return nil, fmt.Errorf("invalid httpd streaming port: %w", err)
			}
			cfg.StreamPort = port
		}
		cfg.DeviceName = out.Name
	}

	switch {
	case !httpdDefined:
		return nil, fmt.Errorf("no httpd audio output defined")
	case cfg.StreamPort == 0:
		return nil, fmt.Errorf("no httpd streaming port defined")
	case cfg.DeviceName == "":
		return nil, fmt.Errorf("no cast device name defined")
	}
	return cfg, nil
}

// asPort accepts both bare integers and MPD's quoted numbers.
func asPort(v any) (int, error) {
	switch val := v.(type) {
	case int64:
		if val <= 0 || val > 65535 {
			return 0, fmt.Errorf("port %d out of range", val)
		}
		return int(val), nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 || n > 65535 {
			return 0, fmt.Errorf("port %q is not a valid port number", val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("port has unsupported type %T", v)
	}
}
