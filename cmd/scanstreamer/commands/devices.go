package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bryanchriswhite/ScanStreamer/internal/camera"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cameras and their capabilities",
	Long: `List the configured cameras and probe each one for the preview sizes,
pixel formats, frame rates and zoom it supports.`,
	Example: `  # List cameras in table format (default)
  scanstreamer devices

  # List cameras in JSON format
  scanstreamer devices --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

// deviceReport is one probed camera
type deviceReport struct {
	ID           string            `json:"id"`
	Facing       camera.Facing     `json:"facing"`
	Orientation  int               `json:"orientation"`
	Error        string            `json:"error,omitempty"`
	PreviewSizes []camera.Size     `json:"preview_sizes,omitempty"`
	Formats      []string          `json:"formats,omitempty"`
	FPSRanges    []camera.FPSRange `json:"fps_ranges,omitempty"`
	FocusModes   []string          `json:"focus_modes,omitempty"`
	FlashModes   []string          `json:"flash_modes,omitempty"`
	MaxZoom      int               `json:"max_zoom"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	driver, err := camera.NewDriver(cfg.Camera)
	if err != nil {
		return err
	}
	infos, err := driver.Devices()
	if err != nil {
		return fmt.Errorf("failed to list cameras: %w", err)
	}

	reports := make([]deviceReport, 0, len(infos))
	for _, info := range infos {
		reports = append(reports, probeDevice(driver, info))
	}

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(reports)
	case "table":
		return printDeviceTable(reports)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func probeDevice(driver camera.Driver, info camera.DeviceInfo) deviceReport {
	report := deviceReport{ID: info.ID, Facing: info.Facing, Orientation: info.Orientation}

	dev, err := driver.Open(info.ID)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer dev.Release()

	params, err := dev.Parameters()
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.PreviewSizes = params.PreviewSizes
	report.FPSRanges = params.FPSRanges
	report.FocusModes = params.FocusModes
	report.FlashModes = params.FlashModes
	if params.ZoomSupported {
		report.MaxZoom = params.MaxZoom
	}
	for _, f := range params.PreviewFormats {
		report.Formats = append(report.Formats, f.String())
	}
	return report
}

func printDeviceTable(reports []deviceReport) error {
	if len(reports) == 0 {
		fmt.Println("No cameras found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tFACING\tORIENT\tFORMATS\tLARGEST PREVIEW\tFPS\tZOOM")
	fmt.Fprintln(w, "------\t------\t------\t-------\t---------------\t---\t----")
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(w, "%s\t%s\t%d\tunavailable: %s\t\t\t\n", r.ID, r.Facing, r.Orientation, r.Error)
			continue
		}
		largest := "-"
		area := 0
		for _, s := range r.PreviewSizes {
			if s.Width*s.Height > area {
				area = s.Width * s.Height
				largest = s.String()
			}
		}
		fps := make([]string, 0, len(r.FPSRanges))
		for _, f := range r.FPSRanges {
			fps = append(fps, fmt.Sprintf("%g-%g", float64(f.Min)/1000, float64(f.Max)/1000))
		}
		zoom := "no"
		if r.MaxZoom > 0 {
			zoom = fmt.Sprintf("0-%d", r.MaxZoom)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Facing, r.Orientation, strings.Join(r.Formats, ","), largest, strings.Join(fps, ","), zoom)
	}
	return w.Flush()
}
