package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ytgrab/ytgrab/internal/binman"
	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/controller"
	"github.com/ytgrab/ytgrab/internal/scheduler"
	"github.com/ytgrab/ytgrab/internal/store"
	"github.com/ytgrab/ytgrab/internal/task"
	"github.com/ytgrab/ytgrab/internal/youtube"
	"github.com/ytgrab/ytgrab/internal/ytdlp"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile  string
	logLevel string
	noColor  bool

	assumeYes    bool
	playlistMode bool
	singleMode   bool
	resumeSaved  bool
	folderFlag   string
	formatFlag   string

	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ytgrab [urls...]",
	Short: "A concurrent video download manager built on yt-dlp",
	Long: `ytgrab downloads videos and playlists through a managed yt-dlp binary,
with a persistent download history, duplicate detection, pause/resume and
a bounded worker pool.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Args:    cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for config init
		if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			return nil
		}

		if err := config.InitializeDirs(); err != nil {
			return fmt.Errorf("failed to initialize directories: %w", err)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if noColor {
			cfg.Logging.Color = false
		}
		if folderFlag != "" {
			cfg.Settings.DownloadFolder = folderFlag
		}
		if formatFlag != "" {
			cfg.Settings.Format = formatFlag
		}
		if err := cfg.Settings.Validate(); err != nil {
			return err
		}

		logger, err = config.InitLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !resumeSaved {
			return cmd.Help()
		}
		return runDownloads(cmd.Context(), args)
	},
}

func runDownloads(parent context.Context, urls []string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close(db)

	history := store.NewHistoryStore(db, logger)
	taskStore := store.NewTaskStore(config.TasksPath(), logger)

	bins := binman.New(config.BinDir(), logger)
	if err := bins.EnsurePresent(ctx, printBinProgress); err != nil {
		return fmt.Errorf("failed to install tools: %w", err)
	}

	wrapper := ytdlp.NewWrapper(bins.YtdlpPath(), bins.FFmpegPath(), logger)
	client := youtube.NewClient(wrapper, logger)

	sched := scheduler.New(client, client, logger)
	prompter := &stdinPrompter{in: bufio.NewReader(os.Stdin)}
	ctrl := controller.New(cfg, sched, client, history, taskStore, prompter, logger)

	sched.Start(cfg.Settings.WorkerTarget())
	cfg.Watch(func(s config.Settings) {
		logger.Info("settings changed", "max_downloads", s.MaxDownloads, "use_acceleration", s.UseAcceleration)
		sched.AdjustWorkerCount(s.WorkerTarget())
	})

	if resumeSaved {
		n, err := ctrl.LoadSaved()
		if err != nil {
			logger.Warn("failed to load saved tasks", "error", err)
		} else if n > 0 {
			fmt.Printf("Restored %d saved task(s)\n", n)
			ctrl.ResumeAllPaused()
		}
	}

	for _, u := range urls {
		if err := ctrl.Add(u); err != nil {
			logger.Error("failed to add URL", "url", u, "error", err)
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", u, err)
		}
	}

	done := make(chan struct{})
	go func() {
		// Playlist expansion is asynchronous; give it a beat to queue
		// children before the settle check can pass.
		time.Sleep(2 * time.Second)
		ctrl.Wait(ctx)
		close(done)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ctx.Done():
			fmt.Println("\nInterrupted, saving state...")
			break loop
		case <-ticker.C:
			printStatus(ctrl.Tasks())
		}
	}

	ctrl.Shutdown()
	printSummary(ctrl.Counts())

	if c := ctrl.Counts(); c[task.StatusFailed] > 0 {
		return fmt.Errorf("%d download(s) failed", c[task.StatusFailed])
	}
	return nil
}

func printStatus(tasks []task.Task) {
	for _, t := range tasks {
		if t.Status != task.StatusDownloading {
			continue
		}
		title := t.Meta.Title
		if title == "" {
			title = t.URL
		}
		line := fmt.Sprintf("[%d] %s  %s", t.ID, t.Progress.PercentStr, title)
		if t.Progress.SpeedStr != "" {
			line += "  " + t.Progress.SpeedStr
		}
		fmt.Println(line)
	}
}

func printSummary(counts map[task.Status]int) {
	fmt.Printf("Done: %d finished, %d failed, %d paused\n",
		counts[task.StatusFinished], counts[task.StatusFailed], counts[task.StatusPaused])
}

func printBinProgress(component string, downloaded, total int64) {
	if total > 0 {
		fmt.Printf("\rDownloading %s: %s / %s", component,
			humanize.Bytes(uint64(downloaded)), humanize.Bytes(uint64(total)))
	} else {
		fmt.Printf("\rDownloading %s: %s", component, humanize.Bytes(uint64(downloaded)))
	}
	if total > 0 && downloaded >= total {
		fmt.Println()
	}
}

// stdinPrompter answers controller questions interactively. The --yes,
// --playlist and --no-playlist flags pre-answer them for scripted use.
type stdinPrompter struct {
	in *bufio.Reader
}

func (p *stdinPrompter) ChoosePlaylistMode(url string) bool {
	if playlistMode {
		return true
	}
	if singleMode {
		return false
	}
	return p.ask(fmt.Sprintf("%s contains a playlist. Download the whole playlist?", url))
}

func (p *stdinPrompter) ConfirmDuplicate(message string) bool {
	if assumeYes {
		return true
	}
	return p.ask(message)
}

func (p *stdinPrompter) ConfirmExcludeDuplicates(n int) bool {
	if assumeYes {
		return true
	}
	return p.ask(fmt.Sprintf("%d playlist entries were already downloaded. Skip them?", n))
}

func (p *stdinPrompter) ConfirmResumeSaved(n int) bool {
	if assumeYes {
		return true
	}
	return p.ask(fmt.Sprintf("Restore %d task(s) from the previous session?", n))
}

func (p *stdinPrompter) ask(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

var binsCmd = &cobra.Command{
	Use:   "bins",
	Short: "Manage the yt-dlp and ffmpeg binaries",
}

var binsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for tool updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		bins := binman.New(config.BinDir(), logger)
		u, err := bins.CheckUpdates(cmd.Context(), true)
		if err != nil {
			return err
		}
		fmt.Printf("yt-dlp: installed %s, latest %s\n", orNone(u.YtDlpInstalled), orNone(u.YtDlpLatest))
		fmt.Printf("ffmpeg: installed %s, latest %s\n", orNone(u.FFmpegInstalled), orNone(u.FFmpegLatest))
		if u.YtDlpOutdated() || u.FFmpegOutdated() {
			fmt.Println("Run `ytgrab bins update` to update.")
		}
		return nil
	},
}

var binsUpdateCmd = &cobra.Command{
	Use:   "update [component...]",
	Short: "Update yt-dlp and/or ffmpeg",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		components := args
		if len(components) == 0 {
			components = []string{binman.ComponentYtDlp, binman.ComponentFFmpeg}
		}
		bins := binman.New(config.BinDir(), logger)
		if err := bins.Update(cmd.Context(), components, printBinProgress); err != nil {
			return err
		}
		fmt.Println("\nTools updated.")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default settings.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(cfgFile); err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = config.DataDir() + "/settings.json"
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: settings.json in the data dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to all prompts")
	rootCmd.Flags().BoolVar(&playlistMode, "playlist", false, "treat ambiguous URLs as playlists")
	rootCmd.Flags().BoolVar(&singleMode, "no-playlist", false, "treat ambiguous URLs as single videos")
	rootCmd.Flags().BoolVar(&resumeSaved, "resume-saved", false, "restore tasks saved by the previous run")
	rootCmd.Flags().StringVar(&folderFlag, "folder", "", "download folder (overrides settings)")
	rootCmd.Flags().StringVar(&formatFlag, "format", "", "output format (overrides settings)")

	binsCmd.AddCommand(binsCheckCmd, binsUpdateCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(binsCmd, configCmd)
}
