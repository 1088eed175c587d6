// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing for the localm CLI.
//
// Handles multiple flag formats consistently:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Command: first positional argument

package cli

import "strings"

// Args holds the parsed command line.
type Args struct {
	// Command is the first positional argument ("tui" when absent)
	Command string
	// Model overrides the configured model name
	Model string
	// BaseURL overrides the configured engine URL
	BaseURL string
	// SettingsPath overrides the default settings file location
	SettingsPath string
	// Quiet suppresses informational output in chat mode
	Quiet bool
}

// Parse parses raw arguments (without the program name).
func Parse(raw []string) Args {
	args := Args{Command: "tui"}

	sawCommand := false
	i := 0
	for i < len(raw) {
		arg := raw[i]

		if !strings.HasPrefix(arg, "-") {
			if !sawCommand {
				args.Command = strings.ToLower(arg)
				sawCommand = true
			}
			i++
			continue
		}

		name := strings.TrimLeft(arg, "-")
		value := ""
		hasValue := false
		if eq := strings.Index(name, "="); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
			hasValue = true
		}

		// Flags taking a value may use either --flag=value or --flag value.
		takeValue := func() string {
			if hasValue {
				return value
			}
			if i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
				i++
				return raw[i]
			}
			return ""
		}

		switch name {
		case "model", "m":
			args.Model = takeValue()
		case "url", "base-url":
			args.BaseURL = takeValue()
		case "settings":
			args.SettingsPath = takeValue()
		case "quiet", "q":
			args.Quiet = true
		case "help", "h":
			args.Command = "help"
		case "version", "v":
			args.Command = "version"
		}
		i++
	}

	return args
}
