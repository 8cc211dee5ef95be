package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yboetz/pyznap/internal/pyznap"
)

var (
	flagConfig  string
	flagVerbose bool
	flagDryRun  bool

	flagSetupPath string

	flagTake  bool
	flagClean bool
	flagFull  bool

	sendFlags struct {
		source        string
		dest          string
		compress      string
		key           string
		sourceKey     string
		destKey       string
		exclude       []string
		raw           bool
		resume        bool
		autoCreate    bool
		retries       int
		retryInterval int
	}
)

func main() {
	root := &cobra.Command{
		Use:           "pyznap",
		Short:         "ZFS snapshot and replication tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger()
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "print more verbose output")
	root.PersistentFlags().BoolVarP(&flagDryRun, "dry-run", "n", false, "dry run, do not execute commands")

	setup := &cobra.Command{
		Use:   "setup",
		Short: "seed a config directory with a sample config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pyznap.Setup(flagSetupPath)
		},
	}
	setup.Flags().StringVarP(&flagSetupPath, "path", "p", pyznap.DefaultConfigDir, "pyznap config dir")

	snap := &cobra.Command{
		Use:   "snap",
		Short: "take and clean snapshots according to the config",
		RunE:  runSnap,
	}
	snap.Flags().BoolVar(&flagTake, "take", false, "take snapshots")
	snap.Flags().BoolVar(&flagClean, "clean", false, "clean old snapshots")
	snap.Flags().BoolVar(&flagFull, "full", false, "take snapshots, then clean")

	send := &cobra.Command{
		Use:   "send",
		Short: "replicate snapshots according to the config",
		RunE:  runSend,
	}
	send.Flags().StringVarP(&sendFlags.source, "source", "s", "", "source dataset")
	send.Flags().StringVarP(&sendFlags.dest, "dest", "d", "", "destination dataset")
	send.Flags().StringVarP(&sendFlags.compress, "compress", "c", "", "compression for the ssh transfer, default lzop")
	send.Flags().StringVarP(&sendFlags.key, "key", "i", "", "ssh key when only one side is remote")
	send.Flags().StringVarP(&sendFlags.sourceKey, "source-key", "j", "", "ssh key for the source when both sides are remote")
	send.Flags().StringVarP(&sendFlags.destKey, "dest-key", "k", "", "ssh key for the dest when both sides are remote")
	send.Flags().StringSliceVarP(&sendFlags.exclude, "exclude", "e", nil, "datasets to exclude")
	send.Flags().BoolVarP(&sendFlags.raw, "raw", "w", false, "raw zfs send")
	send.Flags().BoolVarP(&sendFlags.resume, "resume", "r", false, "resumable send")
	send.Flags().BoolVar(&sendFlags.autoCreate, "dest-auto-create", false, "create the destination if it does not exist")
	send.Flags().IntVar(&sendFlags.retries, "retries", 0, "number of retries on error")
	send.Flags().IntVar(&sendFlags.retryInterval, "retry-interval", 10, "seconds between retries")

	root.AddCommand(setup, snap, send)

	if err := root.ExecuteContext(newContext()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func runSnap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	release, err := pyznap.AcquireLock(lockPath())
	if err != nil {
		return err
	}
	defer release()

	p := pyznap.New(cmd.Context(), cfg, flagDryRun)
	defer p.Close()

	switch {
	case flagTake && !flagClean && !flagFull:
		return p.Take()
	case flagClean && !flagTake && !flagFull:
		return p.Clean()
	default:
		return p.Full()
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	var cfg *pyznap.Config
	var err error

	if sendFlags.source != "" || sendFlags.dest != "" {
		if sendFlags.source == "" || sendFlags.dest == "" {
			return fmt.Errorf("send needs both --source and --dest")
		}
		cfg, err = pyznap.NewSendConfig(pyznap.SendOverrides{
			Source:        sendFlags.source,
			Dest:          sendFlags.dest,
			Compress:      sendFlags.compress,
			Key:           sendFlags.key,
			SourceKey:     sendFlags.sourceKey,
			DestKey:       sendFlags.destKey,
			Exclude:       sendFlags.exclude,
			Raw:           sendFlags.raw,
			Resume:        sendFlags.resume,
			AutoCreate:    sendFlags.autoCreate,
			Retries:       sendFlags.retries,
			RetryInterval: time.Duration(sendFlags.retryInterval) * time.Second,
		})
	} else {
		cfg, err = loadConfig()
	}
	if err != nil {
		return err
	}

	release, err := pyznap.AcquireLock(lockPath())
	if err != nil {
		return err
	}
	defer release()

	p := pyznap.New(cmd.Context(), cfg, flagDryRun)
	defer p.Close()
	return p.Send()
}

func loadConfig() (*pyznap.Config, error) {
	path := flagConfig
	if path == "" {
		path = pyznap.ConfigFile(pyznap.DefaultConfigDir)
	}
	return pyznap.LoadConfig(path)
}

func lockPath() string {
	return filepath.Join(os.TempDir(), "pyznap.lock")
}

func logger() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	pyznap.Logger = log.Logger

	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Debug().Msg("debug logging enabled")
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		<-signals
		cancel()
	}()
	return ctx
}
