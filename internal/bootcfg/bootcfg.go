// Package bootcfg builds the boot record spec.md §6 hands the kernel
// at bring-up, merging a YAML manifest (gopkg.in/yaml.v3) with
// cobra/pflag command-line overrides, grounded on the pack's
// cmd/consumption-style flag wiring.
package bootcfg

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iansmith/mazkern/internal/collab"
)

// Manifest is the on-disk YAML shape of the boot config.
type Manifest struct {
	MemoryMB int    `yaml:"memory_mb"`
	LogLevel string `yaml:"log_level"`
	AppDir   string `yaml:"app_dir"`
	Apps     []struct {
		Name string `yaml:"name"`
		Path string `yaml:"path"`
	} `yaml:"apps"`
}

// Flags holds the cobra/pflag overrides layered on top of the manifest.
type Flags struct {
	MemoryMB   int
	LogLevel   string
	AppDir     string
	BootConfig string
}

// RegisterFlags adds the boot-time flags to cmd, writing results into f.
func RegisterFlags(cmd *cobra.Command, f *Flags) {
	cmd.Flags().IntVar(&f.MemoryMB, "memory-mb", 0, "simulated physical memory size in MiB (0 = use manifest)")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "", "logrus level (trace/debug/info/warn/error)")
	cmd.Flags().StringVar(&f.AppDir, "app-dir", "", "directory of app ELF images to preload into the boot app table")
	cmd.Flags().StringVar(&f.BootConfig, "boot-config", "boot.yaml", "path to the YAML boot manifest")
}

// Load reads the manifest at f.BootConfig (if present) and layers f's
// non-zero overrides on top, producing the merged Manifest.
func Load(f Flags) (Manifest, error) {
	m := Manifest{MemoryMB: 256, LogLevel: "info", AppDir: "apps"}
	if f.BootConfig != "" {
		raw, err := os.ReadFile(f.BootConfig)
		if err == nil {
			if err := yaml.Unmarshal(raw, &m); err != nil {
				return Manifest{}, err
			}
		}
	}
	if f.MemoryMB != 0 {
		m.MemoryMB = f.MemoryMB
	}
	if f.LogLevel != "" {
		m.LogLevel = f.LogLevel
	}
	if f.AppDir != "" {
		m.AppDir = f.AppDir
	}
	return m, nil
}

// BuildRecord turns a merged Manifest plus a resolved app table into
// the collab.BootRecord the process subsystem is constructed from.
func BuildRecord(m Manifest, apps []collab.AppEntry, kernelPages []collab.VAddr, clock collab.Clock) collab.BootRecord {
	return collab.BootRecord{
		MemoryMap: []collab.MemoryRegion{
			{Start: 0, Length: uint64(m.MemoryMB) * 1024 * 1024, Usable: true},
		},
		PhysMemOffset: 0,
		KernelPages:   kernelPages,
		AppTable:      apps,
		LogLevel:      m.LogLevel,
		RuntimeClock:  clock,
	}
}
