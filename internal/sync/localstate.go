package sync

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lmsync/lmsync/internal/lms"
	"github.com/lmsync/lmsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	ignoreFileName = ".lmsyncignore"
	hashCacheSize  = 4096
)

var defaultIgnoreLines = []string{
	InternalDirName + "/",
	ignoreFileName,
	"*.tmp",
	"*.partial",
	// OS noise
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// General excludes
	".git/",
	"~$*",
}

// LocalFile is one ephemeral on-disk observation from a scan.
type LocalFile struct {
	RelPath string
	Size    int64
}

// LocalState is a point-in-time snapshot of a synchronized folder.
type LocalState struct {
	// Files maps slash-separated relative paths to observations.
	Files map[string]*LocalFile
	// ByName indexes observations by normalized filename for the resolver's
	// name-match tier.
	ByName map[string][]*LocalFile
	// Ordered lists observations in walk order (lexical within each
	// directory), so candidate iteration is stable between passes.
	Ordered []*LocalFile
}

// Has reports whether a relative path existed at scan time.
func (s *LocalState) Has(relPath string) bool {
	_, ok := s.Files[relPath]
	return ok
}

// Scanner walks one bound folder and produces LocalState snapshots. Content
// hashes are computed lazily and memoized keyed by (path, size, mtime), so
// unchanged files are hashed once across runs.
type Scanner struct {
	rootDir string
	ignore  *gitignore.GitIgnore
	hashes  *lru.Cache[string, string]
}

// NewScanner builds a scanner for rootDir. Exclude rules combine the
// defaults with an optional .lmsyncignore file in the folder root.
func NewScanner(rootDir string) *Scanner {
	cache, _ := lru.New[string, string](hashCacheSize)
	return &Scanner{
		rootDir: rootDir,
		ignore:  compileIgnoreRules(rootDir),
		hashes:  cache,
	}
}

func compileIgnoreRules(rootDir string) *gitignore.GitIgnore {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(rootDir, ignoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("scan: open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("scan: read ignore file", "path", ignorePath, "error", err)
			}
		}
	}

	return gitignore.CompileIgnoreLines(lines...)
}

// Scan walks the folder and returns a fresh snapshot. A missing root is an
// empty snapshot, not an error; first syncs run against folders that do not
// exist yet.
func (s *Scanner) Scan() (*LocalState, error) {
	state := &LocalState{
		Files:  make(map[string]*LocalFile),
		ByName: make(map[string][]*LocalFile),
	}

	if !utils.DirExists(s.rootDir) {
		return state, nil
	}

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = utils.NormPath(relPath)

		if d.IsDir() {
			if relPath != "." && s.ignore.MatchesPath(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if s.ignore.MatchesPath(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("scan: stat failed", "path", path, "error", err)
			return nil // skip this file
		}

		obs := &LocalFile{
			RelPath: relPath,
			Size:    info.Size(),
		}
		state.Files[relPath] = obs
		state.Ordered = append(state.Ordered, obs)

		norm := lms.NormalizeName(filepath.Base(relPath))
		state.ByName[norm] = append(state.ByName[norm], obs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan failed: %w", err)
	}

	return state, nil
}

// Hash returns the MD5 content hash of a file under the scan root, using
// the memoized value when size and mtime are unchanged.
func (s *Scanner) Hash(relPath string) (string, error) {
	absPath := filepath.Join(s.rootDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s|%d|%d", relPath, info.Size(), info.ModTime().UnixNano())
	if hash, ok := s.hashes.Get(key); ok {
		return hash, nil
	}

	hash, err := utils.FileHash(absPath)
	if err != nil {
		return "", err
	}
	s.hashes.Add(key, hash)
	return hash, nil
}

// Root returns the absolute folder the scanner is bound to.
func (s *Scanner) Root() string {
	return s.rootDir
}
