// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func backendFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "backend",
		Aliases: []string{"b"},
		Usage:   "Backend to use (catalog, audiostation, subsonic, local)",
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
		},
	}
}

func containerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "album", Usage: "Album name"},
		&cli.StringFlag{Name: "artist", Usage: "Artist name"},
		&cli.StringFlag{Name: "playlist", Usage: "Playlist name"},
	}
}

// setupCommand initializes the configuration file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, initialize the database and run migrations",
		Action: r.Setup,
	}
}

// configCommand manages settings stored in the database.
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage stored backend settings",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show effective settings for every backend",
				Flags: append(outputFlags(), &cli.BoolFlag{
					Name:  "reveal",
					Usage: "Show secrets in clear text",
				}),
				Action: r.ConfigShow,
			},
			{
				Name:  "set",
				Usage: "Store a setting: config set <backend> <key> <value>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "backend"},
					&cli.StringArg{Name: "key"},
					&cli.StringArg{Name: "value"},
				},
				Action: r.ConfigSet,
			},
			{
				Name:  "unset",
				Usage: "Remove a stored setting so the config file value applies",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "backend"},
					&cli.StringArg{Name: "key"},
				},
				Action: r.ConfigUnset,
			},
		},
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:   "catalog",
				Usage:  "Authorize the catalog backend in the browser and store the refresh token",
				Action: r.AuthCatalog,
			},
			{
				Name:   "check",
				Usage:  "Sign in to every configured backend and report the result",
				Flags:  outputFlags(),
				Action: r.AuthCheck,
			},
		},
	}
}

// browseCommand lists library containers.
func browseCommand(r *Runner) *cli.Command {
	sub := func(name, usage string) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Flags: append(outputFlags(), backendFlag(), &cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of entries to show (0 for all)",
			}),
			Action: r.Browse,
		}
	}
	return &cli.Command{
		Name:    "browse",
		Aliases: []string{"ls"},
		Usage:   "Browse the library of a backend",
		Commands: []*cli.Command{
			sub("albums", "List albums"),
			sub("artists", "List artists"),
			sub("playlists", "List playlists"),
		},
	}
}

// songsCommand resolves one container to its songs.
func songsCommand(r *Runner) *cli.Command {
	flags := append(containerFlags(), backendFlag())
	return &cli.Command{
		Name:   "songs",
		Usage:  "List the songs of an album, artist or playlist",
		Flags:  append(flags, outputFlags()...),
		Action: r.Songs,
	}
}

func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search songs, albums and artists",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags:  append(outputFlags(), backendFlag()),
		Action: r.Search,
	}
}

// playCommand plays a container until the queue ends or the process is interrupted.
func playCommand(r *Runner) *cli.Command {
	flags := append(containerFlags(), backendFlag(),
		&cli.BoolFlag{Name: "shuffle", Usage: "Shuffle the queue"},
		&cli.StringFlag{Name: "repeat", Usage: "Repeat mode (off, all, one)", Value: "off"},
		&cli.StringFlag{Name: "listen", Usage: "Serve the remote control API on this address (host:port)"},
		&cli.BoolFlag{Name: "tui", Usage: "Show the interactive player"},
	)
	return &cli.Command{
		Name:   "play",
		Usage:  "Play an album, artist or playlist",
		Flags:  flags,
		Action: r.Play,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recently played songs",
		Flags: append(outputFlags(), backendFlag(),
			&cli.IntFlag{Name: "limit", Usage: "Number of entries", Value: 20},
		),
		Action: r.History,
		Commands: []*cli.Command{
			{
				Name:  "clear",
				Usage: "Delete play history",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Only delete entries older than this (e.g. 720h)",
					},
				},
				Action: r.HistoryClear,
			},
		},
	}
}

// exportCommand writes every album or playlist of a backend to files.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export albums or playlists to text, Markdown, CSV or JSON files",
		Flags: []cli.Flag{
			backendFlag(),
			&cli.StringFlag{Name: "kind", Usage: "What to export (album or playlist)", Value: "playlist"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format (text, markdown, csv, json)", Value: "text"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output directory"},
			&cli.StringSliceFlag{Name: "name", Usage: "Only export containers with this name (repeatable)"},
			&cli.IntFlag{Name: "workers", Usage: "Concurrent resolutions", Value: 4},
		},
		Action: r.Export,
	}
}

// tuiCommand returns the top-level TUI command for interactive playback.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive player",
		Flags: []cli.Flag{
			backendFlag(),
			&cli.StringFlag{Name: "listen", Usage: "Serve the remote control API on this address (host:port)"},
		},
		Action: r.TUI,
	}
}
