package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/lmsync/lmsync/internal/lms"
	"github.com/lmsync/lmsync/internal/registry"
	"github.com/lmsync/lmsync/internal/sync"
	"github.com/lmsync/lmsync/internal/utils"
	"github.com/spf13/viper"
)

const humanizeRound = 100 * time.Millisecond

func newSourceClient() (*lms.Client, error) {
	client, err := lms.NewClient(viper.GetString("base_url"), viper.GetString("token"))
	if err != nil {
		return nil, fmt.Errorf("configure LMS client (set base_url and token in the config or flags): %w", err)
	}
	return client, nil
}

func openRegistry() (*registry.Registry, error) {
	dataDir, err := utils.ResolvePath(viper.GetString("data_dir"))
	if err != nil {
		return nil, err
	}
	return registry.Open(filepath.Join(dataDir, "registry.db"))
}

func engineOptions() sync.Options {
	opts := sync.DefaultOptions()
	if n := viper.GetInt("workers"); n > 0 {
		opts.Workers = n
	}
	if n := viper.GetInt("max_attempts"); n > 0 {
		opts.MaxAttempts = n
	}
	if d := viper.GetDuration("retry_base_wait"); d > 0 {
		opts.RetryBaseWait = d
	}
	if f := viper.GetFloat64("similarity_threshold"); f > 0 {
		opts.SimilarityThreshold = f
	}
	return opts
}

// resolveBindings picks the folders to sync: the given args, or every bound
// folder when none are given.
func resolveBindings(reg *registry.Registry, args []string) ([]sync.ScopeBinding, error) {
	if len(args) == 0 {
		all, err := reg.Bindings()
		if err != nil {
			return nil, err
		}
		bindings := make([]sync.ScopeBinding, 0, len(all))
		for _, b := range all {
			bindings = append(bindings, sync.ScopeBinding{
				ScopeID:   b.ScopeID,
				ScopeName: b.ScopeName,
				Folder:    b.Folder,
			})
		}
		return bindings, nil
	}

	bindings := make([]sync.ScopeBinding, 0, len(args))
	for _, arg := range args {
		folder, err := utils.ResolvePath(arg)
		if err != nil {
			return nil, err
		}
		b, err := reg.Lookup(folder)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("folder %s is not bound to a course (run 'lmsync bind' first)", folder)
		}
		bindings = append(bindings, sync.ScopeBinding{
			ScopeID:   b.ScopeID,
			ScopeName: b.ScopeName,
			Folder:    b.Folder,
		})
	}
	return bindings, nil
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
