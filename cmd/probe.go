package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/monocam/internal/camera"
	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/logging"
)

// ProbeReport summarizes a probe run.
type ProbeReport struct {
	Session     device.SessionInfo `json:"session"`
	Grabs       int                `json:"grabs"`
	Frames      int                `json:"frames"`
	Transient   int                `json:"transient"`
	EndOfInput  bool               `json:"end_of_input"`
	Fatal       string             `json:"fatal,omitempty"`
	IMUSamples  int                `json:"imu_samples"`
	Temperature *float64           `json:"temperature,omitempty"`
	Elapsed     time.Duration      `json:"elapsed"`
}

// FrameRate returns the measured rate of successful grabs.
func (r ProbeReport) FrameRate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

// maxGrabsPerFrame bounds the attempts made on a source that only fails
// transiently.
const maxGrabsPerFrame = 10

// Probe opens adapter with cfg, grabs until frames frames succeeded or the
// source ends, and closes it. progress, when set, is called every interval
// with the counts so far.
func Probe(ctx context.Context, adapter device.Adapter, cfg device.Config, frames int,
	interval time.Duration, progress func(ProbeReport)) (report ProbeReport, err error) {
	info, err := adapter.Open(ctx, cfg)
	if err != nil {
		return report, fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		err = multierr.Append(err, adapter.Close())
	}()
	report.Session = info

	var mu sync.Mutex
	snapshot := func() ProbeReport {
		mu.Lock()
		defer mu.Unlock()
		return report
	}

	start := time.Now()
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		for attempts := 0; attempts < frames*maxGrabsPerFrame; attempts++ {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, grabErr := adapter.Grab(gctx)
			if grabErr != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			report.Grabs++
			report.Elapsed = time.Since(start)
			switch {
			case grabErr == nil:
				report.Frames++
			case device.IsTransient(grabErr):
				report.Transient++
			case device.IsEndOfInput(grabErr):
				report.EndOfInput = true
			default:
				report.Fatal = grabErr.Error()
			}
			finished := report.Frames >= frames || report.EndOfInput || report.Fatal != ""
			mu.Unlock()

			if grabErr == nil {
				if _, viewErr := adapter.RetrieveImage(device.ViewColor); viewErr != nil {
					return fmt.Errorf("retrieve image: %w", viewErr)
				}
				n := drainIMU(adapter)
				mu.Lock()
				report.IMUSamples += n
				mu.Unlock()
			}
			if finished {
				return nil
			}
		}
		return nil
	})

	if progress != nil && interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return nil
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					progress(snapshot())
				}
			}
		})
	}

	// Cancellation and deadlines end the run early; the partial report stands.
	if waitErr := g.Wait(); waitErr != nil &&
		!errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		return report, waitErr
	}

	if info.HasTemperature {
		if s, ok, tempErr := adapter.RetrieveSensorSample(device.SensorTemperature); tempErr == nil && ok {
			report.Temperature = &s.Temperature
		}
	}
	return report, nil
}

func drainIMU(adapter device.Adapter) int {
	n := 0
	for {
		_, ok, err := adapter.RetrieveSensorSample(device.SensorIMU)
		if err != nil || !ok {
			return n
		}
		n++
	}
}

func printProbeReport(w io.Writer, r ProbeReport) {
	s := r.Session
	fmt.Fprintf(w, "Camera:      %s %s (serial %d)\n", s.Model, s.Descriptor, s.Serial)
	fmt.Fprintf(w, "Resolution:  %s %dx%d @ %d fps\n", s.Resolution.Name, s.Resolution.Width, s.Resolution.Height, s.FrameRate)
	fmt.Fprintf(w, "Firmware:    camera %d, sensors %d\n", s.CameraFirmware, s.SensorsFirmware)
	fmt.Fprintf(w, "Grabs:       %d (%d frames, %d transient)\n", r.Grabs, r.Frames, r.Transient)
	fmt.Fprintf(w, "Rate:        %.1f fps over %s\n", r.FrameRate(), r.Elapsed.Round(time.Millisecond))
	if s.HasIMU {
		fmt.Fprintf(w, "IMU samples: %d\n", r.IMUSamples)
	}
	if r.Temperature != nil {
		fmt.Fprintf(w, "Temperature: %.1f C\n", *r.Temperature)
	}
	switch {
	case r.Fatal != "":
		fmt.Fprintf(w, "Result:      fatal: %s\n", r.Fatal)
	case r.EndOfInput:
		fmt.Fprintln(w, "Result:      end of input")
	default:
		fmt.Fprintln(w, "Result:      ok")
	}
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var configFile string
	var frames int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Open the configured camera and grab frames",
		Long: `Opens the input source configured in the [camera] table of the config file, ` +
			`prints the session information and grabs frames, reporting each outcome class. ` +
			`Exits non-zero on an open failure or a fatal grab.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initLogging(configFile, asJSON)
			logger := logging.GetLogger("probe")

			_, _, cfg, err := loadParameters(configFile, logging.GetLogger("params"))
			if err != nil {
				return err
			}
			adapter, err := device.New(cfg.Source)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Probing camera", "source", cfg.Source, "resolution", cfg.Resolution.Name, "frames", frames)
			report, err := Probe(ctx, adapter, cfg.DeviceConfig(nil, logging.GetLogger(camera.ModuleSDK)), frames,
				time.Second, func(r ProbeReport) {
					logger.Info("Probe progress", "frames", r.Frames, "transient", r.Transient)
				})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printProbeReport(out, report)
			}

			if report.Fatal != "" {
				return errors.New(report.Fatal)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "config.toml", "Path to configuration file")
	cmd.Flags().IntVarP(&frames, "frames", "n", 30, "Number of frames to grab")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
