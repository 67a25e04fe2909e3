package pagealign

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ArchivesScanned   prometheus.Counter
	ElfFiles          prometheus.Counter
	AlignmentProblems *prometheus.CounterVec
	ZipErrors         prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ArchivesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagealign_archives_scanned_total",
			Help: "Total number of archives scanned for 16 KB alignment",
		}),
		ElfFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagealign_elf_files_total",
			Help: "Total number of ELF files found and parsed",
		}),
		AlignmentProblems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagealign_alignment_problems_total",
			Help: "Total number of alignment problems found, by kind",
		}, []string{"kind"}),
		ZipErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagealign_zip_errors_total",
			Help: "Total number of archives whose scan stopped on a zip error",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ArchivesScanned,
			m.ElfFiles,
			m.AlignmentProblems,
			m.ZipErrors,
		)
	}

	return m
}

func (m *Metrics) observe(info PageAlignmentInfo, elfFiles int) {
	if m == nil {
		return
	}
	m.ArchivesScanned.Inc()
	m.ElfFiles.Add(float64(elfFiles))
	for _, problems := range info.AlignmentProblems {
		for _, p := range problems {
			m.AlignmentProblems.WithLabelValues(string(p.Kind())).Inc()
		}
	}
	if info.ZipErr != nil {
		m.ZipErrors.Inc()
	}
}
