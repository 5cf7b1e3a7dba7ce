package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"eyeline/internal/encode"
	"eyeline/internal/logging"
)

func (r *Root) configShow() error {
	cfgPath := os.Getenv("EYELINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/eyeline/config.json"
	}
	fmt.Fprintf(r.out, "Config file: %s\n\n", cfgPath)
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(r.cfg)
}

func (r *Root) cmdVersion() error {
	fmt.Fprintf(r.out, "eyeline v%s\n", Version)
	fmt.Fprintf(r.out, "Built with Go %s\n", runtime.Version())
	fmt.Fprintf(r.out, "Tools:\n")
	for _, tool := range []string{r.cfg.Encoder.FFmpegPath, r.cfg.Encoder.FFprobePath} {
		available := encode.Available(tool)
		logging.LogToolStatus(r.log, tool, available)
		status := "unavailable"
		if available {
			status = "available"
		}
		fmt.Fprintf(r.out, "  %s: %s\n", tool, status)
	}
	fmt.Fprintf(r.out, "Resample backend: %s\n", r.cfg.Alignment.Backend)
	fmt.Fprintf(r.out, "Detection service: %s (%s)\n", r.cfg.Detection.URL, r.cfg.Detection.Transport)
	return nil
}
