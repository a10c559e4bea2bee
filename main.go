package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm/logger"
)

func main() {
	err := godotenv.Load()
	if os.IsNotExist(err) {
		log.Printf("no .env file found, skipping")
	} else if err != nil {
		log.Fatalf("failed loading .env file: %s", err)
	}

	err = newApp().Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "nowplaying"
	app.Usage = "Now-playing state and read API for a broadcast station."
	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "port to run server on",
			EnvVars: []string{"NOWPLAYING_PORT"},
		},
		&cli.StringFlag{
			Name:    "db-driver",
			Value:   "sqlite",
			Usage:   "database driver, sqlite or mysql",
			EnvVars: []string{"NOWPLAYING_DB_DRIVER"},
		},
		&cli.StringFlag{
			Name:    "database",
			Value:   "nowplaying.db",
			Usage:   "sqlite file path or mysql dsn",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "cors-origin",
			Value:   cli.NewStringSlice("*"),
			Usage:   "allowed CORS origin or comma-separated origins",
			EnvVars: []string{"NOWPLAYING_CORS_ORIGINS"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "log every SQL statement",
			EnvVars: []string{"NOWPLAYING_DEBUG"},
		},
	}
	app.Action = serve
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "serve the read API",
			Action: serve,
		},
		{
			Name:   "now-playing",
			Usage:  "print what is on air",
			Action: printNowPlaying,
		},
		{
			Name:  "append-play",
			Usage: "record that a recording started airing under a program",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "program", Usage: "program id", Required: true},
				&cli.Uint64Flag{Name: "recording", Usage: "recording id", Required: true},
			},
			Action: appendPlay,
		},
		{
			Name:  "recent",
			Usage: "print recently aired recordings",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: defaultRecentPlays, Usage: "number of plays"},
			},
			Action: printRecent,
		},
		{
			Name:      "tag",
			Usage:     "attach tags to a program or recording, creating unknown tags",
			ArgsUsage: "NAME...",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "program", Usage: "program id"},
				&cli.Uint64Flag{Name: "recording", Usage: "recording id"},
			},
			Action: tagEntity,
		},
		{
			Name:      "seed",
			Usage:     "load tags, programs and recordings from a YAML catalog",
			ArgsUsage: "FILE",
			Action:    seed,
		},
	}
	return app
}

func openDatabase(ctx *cli.Context) (*database, error) {
	level := logger.Warn
	if ctx.Bool("debug") {
		level = logger.Info
	}
	return newDatabase(ctx.String("db-driver"), ctx.String("database"), level)
}

func serve(ctx *cli.Context) error {
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := newMetrics()
	if err != nil {
		return err
	}

	handler := newServer(db, m, ctx.StringSlice("cors-origin"))

	// Start HTTP handler.
	quit := make(chan os.Signal, 2)
	var wg sync.WaitGroup
	wg.Add(1)

	server := &http.Server{Addr: ":" + strconv.Itoa(ctx.Int("port")), Handler: handler}

	go func() {
		defer wg.Done()

		slog.Info("serving", "address", server.Addr)

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "failed to start server: %s\n", err)
			quit <- os.Interrupt
		}
	}()

	signal.Notify(
		quit,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)
	<-quit

	slog.Info("Server shutting down...")

	go server.Close()

	wg.Wait()
	return nil
}

func printNowPlaying(ctx *cli.Context) error {
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	broadcast, err := db.CurrentBroadcast(ctx.Context)
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	if broadcast == nil {
		fmt.Fprintln(w, "off air")
		return nil
	}

	fmt.Fprintf(w, "Now playing: %s\n", broadcast.Recording)
	fmt.Fprintf(w, "Program: %s (%s-%s)\n", broadcast.Program.Name, broadcast.Program.StartsAt, broadcast.Program.EndsAt)
	fmt.Fprintf(w, "Since: %s\n", broadcast.Play.StartedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func appendPlay(ctx *cli.Context) error {
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	play, err := db.AppendPlay(ctx.Context, ctx.Uint64("program"), ctx.Uint64("recording"))
	if err != nil {
		return err
	}

	slog.Info("play recorded", "play", play.ID, "program", play.ProgramID, "recording", play.RecordingID)
	fmt.Fprintln(ctx.App.Writer, play.ID)
	return nil
}

func printRecent(ctx *cli.Context) error {
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	plays, err := db.RecentPlays(ctx.Context, ctx.Int("limit"))
	if err != nil {
		return err
	}

	for _, play := range plays {
		fmt.Fprintf(ctx.App.Writer, "%d\t%s\t%s\t%s\n",
			play.ID,
			play.StartedAt.Local().Format("2006-01-02 15:04:05"),
			play.Program.Name,
			play.Recording)
	}
	return nil
}

func tagEntity(ctx *cli.Context) error {
	names := ctx.Args().Slice()
	if len(names) == 0 {
		return errors.New("tag name is missing")
	}

	programID, recordingID := ctx.Uint64("program"), ctx.Uint64("recording")
	if (programID == 0) == (recordingID == 0) {
		return errors.New("exactly one of --program or --recording is required")
	}

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, name := range names {
		tag, err := db.GetTagByName(ctx.Context, name)
		if errors.Is(err, ErrNotFound) {
			tag, err = db.CreateTag(ctx.Context, name)
		}
		if err != nil {
			return err
		}

		if programID != 0 {
			err = db.TagProgram(ctx.Context, programID, tag.ID)
		} else {
			err = db.TagRecording(ctx.Context, recordingID, tag.ID)
		}
		if err != nil {
			return err
		}

		slog.Info("tagged", "tag", tag.Name, "program", programID, "recording", recordingID)
	}
	return nil
}

func seed(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return errors.New("catalog file is missing")
	}

	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fd.Close()

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.SeedCatalog(ctx.Context, fd)
	if err != nil {
		return err
	}

	slog.Info("catalog seeded", "tags", result.Tags, "programs", result.Programs, "recordings", result.Recordings)
	return nil
}
