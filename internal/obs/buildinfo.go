package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// build_info{version, commit, dialect} 1
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Garage API build information.",
		},
		[]string{"version", "commit", "dialect"},
	)
)

// InitBuildInfo registers build_info once and sets its value.
func InitBuildInfo(version, commit, dialect string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, dialect).Set(1)
}
