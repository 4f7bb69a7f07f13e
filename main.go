// scanflash verifies the true usable capacity of flash media. It writes a
// self-describing pattern across every block, reads it back, reports which
// regions are genuine, and rewrites the partition table so only verified
// space is exposed to the operating system.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scanflash/check"
	"scanflash/device"
	"scanflash/mbr"
	"scanflash/scanui"
)

// Exit codes.
const (
	exitOK           = 0 // check completed, device good
	exitBadArgs      = 1
	exitNoOpen       = 2 // unable to open the device
	exitAborted      = 3 // user aborted
	exitDeviceFailed = 8 // check completed, device bad
)

// exitErr carries a specific process exit code up through cobra.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ee *exitErr
		switch {
		case errors.As(err, &ee):
			fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
			os.Exit(ee.code)
		case errors.Is(err, check.ErrAborted):
			fmt.Fprintln(os.Stderr, "Aborted.")
			os.Exit(exitAborted)
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(exitBadArgs)
		}
	}
	os.Exit(exitOK)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scanflash",
		Short:         "Scan flash media to detect fakes",
		Long:          "Verify the real capacity of a storage device by writing and reading back a block-addressed pattern, then partition around any bad region found.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCheckCmd())
	root.AddCommand(newMBRCmd())
	root.AddCommand(newDeviceCmd())
	return root
}

func setupLogging(logPath string) (func(), error) {
	if logPath == "" {
		return func() {}, nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "logging setup")
	}
	restore := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		restore()
	}, nil
}

func newCheckCmd() *cobra.Command {
	var (
		devicePath   string
		force        bool
		yes          bool
		fullscreen   bool
		resumeMode   string
		logPath      string
		errorTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Write and read back a verification pattern over the whole device [DESTRUCTIVE]",
		RunE: func(_ *cobra.Command, _ []string) error {
			if isRawDevice(devicePath) && !force {
				return fmt.Errorf("%s looks like a raw device; pass --force to erase it", devicePath)
			}
			teardown, err := setupLogging(logPath)
			if err != nil {
				return err
			}
			defer teardown()

			if mnt := mountedDeviceFor(devicePath); mnt != "" {
				return fmt.Errorf("%s is mounted at %s; unmount it first", devicePath, mnt)
			}

			if !yes {
				fmt.Printf("WARNING: All data on %s will be erased permanently!\n", devicePath)
				if !askYesNo(os.Stdin, "Are you sure you wish to continue (Y/N)? ") {
					return &exitErr{code: exitAborted, err: check.ErrAborted}
				}
			}

			dev, err := device.Open(devicePath)
			if err != nil {
				return &exitErr{code: exitNoOpen, err: errors.Wrap(err, "unable to open device")}
			}
			defer dev.Close()

			var cb check.Callback
			var ui *scanui.UI
			if fullscreen {
				ui, err = scanui.NewUI()
				if err != nil {
					return errors.Wrap(err, "ui init")
				}
				defer ui.Close()
				cb = newUICallback(ui, devicePath)
			} else {
				cb = newConsoleCallback(os.Stdin, os.Stdout)
			}
			switch resumeMode {
			case "ask":
			case "yes", "no":
				cb = &forcedResume{Callback: cb, resume: resumeMode == "yes"}
			default:
				return fmt.Errorf("--resume must be ask, yes or no, not %q", resumeMode)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				<-sigChan
				if ui != nil {
					ui.RequestStop()
					return
				}
				fmt.Fprintf(os.Stderr, "\nInterrupted\n")
				os.Exit(exitAborted)
			}()

			chk, err := check.New(dev, cb, check.WithMaxReadErrorTime(errorTimeout))
			if err != nil {
				return err
			}
			res, err := chk.Run()
			if ui != nil {
				ui.Close()
			}
			if err != nil && !errors.Is(err, check.ErrSustainedFailure) {
				return err
			}
			printResult(res)
			if res.BadFound || res.TimedOut {
				return &exitErr{code: exitDeviceFailed, err: fmt.Errorf("device failed verification")}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&devicePath, "device", "", "block device or image file to check")
	cmd.Flags().BoolVar(&force, "force", false, "required when --device is a raw device")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the are-you-sure prompt")
	cmd.Flags().BoolVar(&fullscreen, "fullscreen", false, "full-screen progress UI instead of line output")
	cmd.Flags().StringVar(&resumeMode, "resume", "ask", "resume an interrupted run: ask, yes or no")
	cmd.Flags().StringVar(&logPath, "log", "", "write a structured log to this file")
	cmd.Flags().DurationVar(&errorTimeout, "read-error-timeout", check.DefaultMaxReadErrorTime,
		"abort the read pass after this long of continuous read failures (0 disables)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

// forcedResume answers the resume gate from the --resume flag instead of
// prompting.
type forcedResume struct {
	check.Callback
	resume bool
}

func (f *forcedResume) ResumeWrite() bool { return f.resume }

// printResult reproduces the classic end-of-run report: how much of the
// device is usable on either side of the bad envelope.
func printResult(res check.Result) {
	fmt.Println()
	if res.TimedOut {
		fmt.Println("Read failures continued past the configured limit; results cover only the scanned part.")
	}
	if !res.BadFound {
		fmt.Println("No bad blocks detected.  This device is 100% functional!")
		return
	}
	first := res.FirstBadBlock * check.BlockSize
	nextGood := (res.LastBadBlock + 1) * check.BlockSize
	fmt.Printf("First bad block was at %d (* %d = byte offset %d)\n", res.FirstBadBlock, check.BlockSize, first)
	fmt.Printf("  >> First %dMB are good\n", first/1048576)
	fmt.Printf("Last bad block was at %d (next good byte offset %d)\n", res.LastBadBlock, nextGood)
	fmt.Printf("  >> Last %dMB are good\n", (res.NumBlocks-(res.LastBadBlock+1))*check.BlockSize/1048576)
	fmt.Println()
	fmt.Println("A partition table screening off the bad region has been written.")
}

func newMBRCmd() *cobra.Command {
	mbrCmd := &cobra.Command{
		Use:   "mbr",
		Short: "Partition table utilities (read-only)",
	}
	var path string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Decode and print the partition table of a device or image",
		RunE: func(_ *cobra.Command, _ []string) error {
			f, err := os.Open(path)
			if err != nil {
				return &exitErr{code: exitNoOpen, err: err}
			}
			defer f.Close()
			img := make([]byte, mbr.Size)
			if _, err := io.ReadFull(f, img); err != nil {
				return errors.Wrap(err, "read MBR")
			}
			entries, serial, err := mbr.Decode(img)
			if err != nil {
				return err
			}
			fmt.Printf("Disk serial: %08X\n", serial)
			if len(entries) == 0 {
				fmt.Println("No partitions.")
				return nil
			}
			fmt.Printf("%-4s %-6s %12s %12s %12s\n", "Slot", "Type", "Start", "End", "Sectors")
			for i, e := range entries {
				kind := fmt.Sprintf("%02X", e.Type)
				switch e.Type {
				case mbr.TypeGood:
					kind = "good"
				case mbr.TypeBad:
					kind = "bad"
				}
				fmt.Printf("%-4d %-6s %12d %12d %12d\n", i+1, kind, e.Start, e.End, e.End-e.Start)
			}
			return nil
		},
	}
	showCmd.Flags().StringVar(&path, "device", "", "device or image file")
	_ = showCmd.MarkFlagRequired("device")
	mbrCmd.AddCommand(showCmd)
	return mbrCmd
}

func newDeviceCmd() *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Device related utilities (safe, read-only)",
	}
	var listAll bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List whole-disk devices that can be checked (read-only)",
		RunE: func(_ *cobra.Command, _ []string) error {
			infos, err := discoverDevices()
			if err != nil {
				return err
			}
			fmt.Println("This is a SAFE, read-only listing. No device will be touched.")
			fmt.Println()
			fmt.Println("Whole-disk devices (usable with check --device):")
			found := false
			for _, d := range infos {
				if !d.Compatible {
					continue
				}
				line := "  " + d.Path
				if mnt := mountedDeviceFor(d.Path); mnt != "" {
					line += "  (mounted at " + mnt + " - unmount before checking)"
				}
				fmt.Println(line)
				found = true
			}
			if !found {
				fmt.Println("  <none detected>")
			}
			if listAll {
				fmt.Println()
				fmt.Println("Not usable:")
				for _, d := range infos {
					if d.Compatible {
						continue
					}
					reason := d.Reason
					if strings.TrimSpace(reason) == "" {
						reason = "not a whole-disk device"
					}
					fmt.Printf("  %s  (%s)\n", d.Path, reason)
				}
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listAll, "all", false, "include partitions and other unusable devices")
	deviceCmd.AddCommand(listCmd)
	return deviceCmd
}
