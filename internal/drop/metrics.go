package drop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfd_uploads_total",
		Help: "Upload batches by result.",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfd_upload_bytes_total",
		Help: "Bytes written to the blob store by uploads.",
	})

	// metadataGapsTotal counts blobs stored without a metadata record.
	metadataGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfd_metadata_gaps_total",
		Help: "Files stored in the blob store whose metadata write failed twice.",
	})

	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfd_redemptions_total",
		Help: "Code redemptions by result.",
	}, []string{"result"})

	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfd_sweep_deleted_total",
		Help: "Records and blobs removed by the sweeper.",
	})

	sweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfd_sweep_failures_total",
		Help: "Records the sweeper failed to remove.",
	})
)
