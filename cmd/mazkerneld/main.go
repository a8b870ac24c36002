// Command mazkerneld boots the hosted simulation kernel: it loads the
// boot manifest, builds the collaborators (frame allocator, page
// mapper, ELF loader, filesystem, console, clock), constructs the
// kernel process and its process manager, registers the boot app
// table (the reference shell plus anything named in the manifest),
// runs the cooperative scheduler to completion, and exits with the
// shell's own exit code.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iansmith/mazkern/internal/bootcfg"
	"github.com/iansmith/mazkern/internal/bootsplash"
	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/manager"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/process"
	"github.com/iansmith/mazkern/internal/sched"
	"github.com/iansmith/mazkern/internal/shell"
	"github.com/iansmith/mazkern/internal/syscallapi"
	"github.com/iansmith/mazkern/internal/vmem"
)

const totalFrames = 1 << 16 // 256 MiB of 4 KiB frames, independent of the reported manifest size

func main() {
	var flags bootcfg.Flags
	root := &cobra.Command{
		Use:   "mazkerneld",
		Short: "boot the process-subsystem teaching kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := boot(flags)
			if err != nil {
				return err
			}
			os.Exit(int(code))
			return nil
		},
	}
	bootcfg.RegisterFlags(root, &flags)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("mazkerneld: fatal boot error")
		os.Exit(1)
	}
}

func boot(flags bootcfg.Flags) (int64, error) {
	manifest, err := bootcfg.Load(flags)
	if err != nil {
		return 0, fmt.Errorf("mazkerneld: load boot config: %w", err)
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(manifest.LogLevel); err == nil {
		log.SetLevel(level)
	}
	entry := logrus.NewEntry(log)

	alloc := collab.NewSimFrameAllocator(totalFrames)
	mapper := collab.NewSimPageMapper()
	console := collab.NewBufConsole(os.Stdout, os.Stderr)
	fs := collab.NewMemFS()
	clock := collab.SystemClock{}
	loader := collab.ELFLoader{}

	apps, err := loadAppTable(fs, manifest)
	if err != nil {
		return 0, fmt.Errorf("mazkerneld: load app table: %w", err)
	}

	kernelVm, err := vmem.InitKernelVm(mapper, nil, alloc)
	if err != nil {
		return 0, fmt.Errorf("mazkerneld: init kernel vm: %w", err)
	}
	kernelData := procdata.New(console)
	kernel := process.New(procid.KernelPid, "kernel", 0, kernelVm, kernelData, 0)

	record := bootcfg.BuildRecord(manifest, apps, nil, clock)
	entry.WithFields(logrus.Fields{
		"memory_mb": manifest.MemoryMB,
		"apps":      len(record.AppTable),
	}).Info("mazkerneld: boot record assembled")

	mgr := manager.New(kernel, apps, mapper, loader, fs, console, clock, alloc, entry)
	scheduler := sched.New(mgr, entry)
	handle := syscallapi.New(mgr, scheduler, entry)
	scheduler.SetSyscaller(handle)

	bootsplash.Render(console, "mazkern", "0.1")

	shellPid, err := scheduler.SpawnApp("shell", procid.KernelPid, nil)
	if err != nil {
		return 0, fmt.Errorf("mazkerneld: spawn shell: %w", err)
	}

	scheduler.Run()

	code, _ := mgr.GetExitCode(shellPid)
	entry.WithField("code", code).Info("mazkerneld: shell exited, halting")
	return code, nil
}

// loadAppTable builds the boot-time AppEntry list: the reference shell
// (a registered Go closure, matched with a throwaway loadable ELF
// image so code_segment_pages/brk/stack bookkeeping still applies) plus
// every app named in the manifest, whose ELF bytes are read from disk
// under AppDir and registered in fs under the same name for "run"/"ls"
// to find via the filesystem collaborator too.
func loadAppTable(fs *collab.MemFS, manifest bootcfg.Manifest) ([]collab.AppEntry, error) {
	apps := []collab.AppEntry{
		{Name: "shell", ELF: collab.NewTrivialImage(0x40_0000), Program: shell.Run},
	}
	for _, a := range manifest.Apps {
		path := a.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(manifest.AppDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", a.Name, err)
		}
		apps = append(apps, collab.AppEntry{Name: a.Name, ELF: data})
		fs.AddFile("/"+a.Name, data)
	}
	return apps, nil
}
