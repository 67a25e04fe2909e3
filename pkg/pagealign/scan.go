package pagealign

import (
	"bufio"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/grafana/pagealign/pkg/zipstream"
)

// PageAlignmentInfo is the result of scanning an archive (apk, aab, aar) for
// alignment problems.
type PageAlignmentInfo struct {
	// HasElfFiles is true when the archive holds at least one parseable ELF file.
	HasElfFiles bool
	// AlignmentProblems maps the path of an ELF file within the archive to its problems.
	AlignmentProblems map[string][]AlignmentProblem
	// ZipErr holds the error that stopped the scan, if any. Problems found before
	// it are still reported.
	ZipErr error
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithLogger(logger log.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// Scanner checks the native libraries of archives for 16 KB page alignment.
// A Scanner holds no per-scan state and may be used from several goroutines.
type Scanner struct {
	logger  log.Logger
	metrics *Metrics
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{logger: log.NewNopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

var defaultScanner = NewScanner()

// FindElfFile16KAlignmentInfo scans the zip archive read from r.
func FindElfFile16KAlignmentInfo(r io.Reader) PageAlignmentInfo {
	return defaultScanner.Scan(r)
}

// Scan walks the entries of the zip archive read from r in physical order.
// A corrupt archive does not fail the scan: the error is returned in ZipErr
// together with the problems found up to that point.
func (s *Scanner) Scan(r io.Reader) PageAlignmentInfo {
	var (
		zr       = zipstream.NewReader(r)
		problems = make(map[string][]AlignmentProblem)
		info     PageAlignmentInfo
		elfFiles int
	)

	for {
		entry, err := zr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			level.Warn(s.logger).Log("msg", "stopped reading archive", "offset", zr.BytesRead(), "err", err)
			info.ZipErr = err
			break
		}

		entryAligned := Is16KAligned(uint64(entry.DataOffset))
		if !HasElfMagic(zr) {
			continue
		}
		elfProblems, ok := ReadElfAlignmentProblems(zr)
		if !ok {
			level.Debug(s.logger).Log("msg", "skipping unsupported ELF file", "entry", entry.Name)
			continue
		}
		info.HasElfFiles = true
		elfFiles++

		problems[entry.Name] = append(problems[entry.Name], elfProblems...)
		// Only stored entries can be mapped straight from the archive.
		if entry.Method == zipstream.Store && !entryAligned {
			problems[entry.Name] = append(problems[entry.Name], NewZipEntryNotAligned(uint64(entry.DataOffset)))
		}
		if len(problems[entry.Name]) == 0 {
			delete(problems, entry.Name)
		}
		level.Debug(s.logger).Log("msg", "checked ELF file", "entry", entry.Name, "offset", entry.DataOffset, "method", entry.Method, "problems", len(problems[entry.Name]))
	}

	info.AlignmentProblems = problems
	s.metrics.observe(info, elfFiles)
	return info
}

// ScanFile scans the archive at path. Only failing to open the file is an error.
func (s *Scanner) ScanFile(fs afero.Fs, path string) (PageAlignmentInfo, error) {
	f, err := fs.Open(path)
	if err != nil {
		return PageAlignmentInfo{}, err
	}
	defer f.Close()
	return s.Scan(f), nil
}

// ScanElfFile checks a single ELF file outside of any archive. The second result
// is false when the file is not a supported ELF file.
func (s *Scanner) ScanElfFile(fs afero.Fs, path string) ([]AlignmentProblem, bool, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	problems, ok := CheckElf(bufio.NewReader(f))
	if ok {
		level.Debug(s.logger).Log("msg", "checked ELF file", "path", path, "problems", len(problems))
	}
	return problems, ok, nil
}
