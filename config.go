// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

// pipelineConfig carries the settings shared by every cohort
// subcommand. It is filled in from command line flags and handed to
// the components that need it; nothing reads package-level paths.
type pipelineConfig struct {
	InputDir       string
	OutputDir      string
	AnnotationPath string
	Feature        string
	Sources        string
	Threads        int

	runLocal    bool
	projectUUID string
	priority    int
	pprof       string
}

func (cfg *pipelineConfig) Flags(flags *flag.FlagSet) {
	flags.StringVar(&cfg.pprof, "pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.BoolVar(&cfg.runLocal, "local", false, "run on local host (default: run in an arvados container)")
	flags.StringVar(&cfg.projectUUID, "project", "", "project `UUID` for output data")
	flags.IntVar(&cfg.priority, "priority", 500, "container request priority")
	flags.StringVar(&cfg.InputDir, "input-dir", "./in", "input `directory` containing TCGA*.gob patient files")
	flags.StringVar(&cfg.OutputDir, "output-dir", "./results", "output `directory`")
	flags.StringVar(&cfg.AnnotationPath, "annotation", "", "reference annotation `file` (GTF, optionally .gz)")
	flags.StringVar(&cfg.Feature, "feature", "gene", "GTF feature `type` to index")
	flags.StringVar(&cfg.Sources, "sources", "ensembl_havana", "comma-separated GTF `sources` to index")
	flags.IntVar(&cfg.Threads, "threads", 4, "number of patients to process concurrently")
}

// Args returns the flags needed to repeat this configuration inside
// a container, where output always goes to /mnt/output.
func (cfg *pipelineConfig) Args() []string {
	return []string{
		"-local=true",
		"-input-dir=" + cfg.InputDir,
		"-output-dir=/mnt/output",
		"-annotation=" + cfg.AnnotationPath,
		"-feature=" + cfg.Feature,
		"-sources=" + cfg.Sources,
		fmt.Sprintf("-threads=%d", cfg.Threads),
	}
}

func (cfg *pipelineConfig) sourceSet() []string {
	var sources []string
	for _, s := range strings.Split(cfg.Sources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	return sources
}

func (cfg *pipelineConfig) startPprof() {
	if cfg.pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(cfg.pprof, nil))
		}()
	}
}

func (cfg *pipelineConfig) runInContainer(subcommand string, ram int64, extraArgs []string, extraPaths ...*string) (string, error) {
	return cfg.runInContainerContext(context.Background(), subcommand, ram, extraArgs, extraPaths...)
}

// runInContainerContext submits the given subcommand to Arvados with
// the input paths translated into collection mounts, and returns the
// output collection UUID. Cancelling ctx cancels the container
// request.
func (cfg *pipelineConfig) runInContainerContext(ctx context.Context, subcommand string, ram int64, extraArgs []string, extraPaths ...*string) (string, error) {
	runner := arvadosContainerRunner{
		Name:        "nnexp " + subcommand,
		Client:      arvados.NewClientFromEnv(),
		ProjectUUID: cfg.projectUUID,
		RAM:         ram,
		VCPUs:       cfg.Threads,
		Priority:    cfg.priority,
		KeepCache:   2,
	}
	paths := append([]*string{&cfg.InputDir, &cfg.AnnotationPath}, extraPaths...)
	err := runner.TranslatePaths(paths...)
	if err != nil {
		return "", err
	}
	runner.Args = append([]string{subcommand, "-pprof=:6060"}, cfg.Args()...)
	runner.Args = append(runner.Args, extraArgs...)
	return runner.RunContext(ctx)
}

func (cfg *pipelineConfig) loadAnnotation() (*AnnotationIndex, error) {
	if cfg.AnnotationPath == "" {
		return nil, fmt.Errorf("no -annotation file specified")
	}
	log.Infof("loading %s features from %s (sources %v)", cfg.Feature, cfg.AnnotationPath, cfg.sourceSet())
	return OpenAnnotation(cfg.AnnotationPath, cfg.Feature, cfg.sourceSet())
}

// parseFlags applies the usual subcommand conventions: -help is not
// an error, and leftover arguments are.
func parseFlags(flags *flag.FlagSet, args []string) (help bool, err error) {
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		return true, nil
	} else if err != nil {
		return false, usageError{err}
	} else if flags.NArg() > 0 {
		return false, usageError{fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())}
	}
	return false, nil
}

// usageError is a problem with the command line, as opposed to the
// data.
type usageError struct {
	error
}

// exitCode reports err on stderr and converts it to a process exit
// code: 2 for usage errors, 1 for everything else.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "%s\n", err)
	if _, ok := err.(usageError); ok {
		return 2
	}
	return 1
}
